package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/abdul-hamid-achik/hitwire/packages/certs"
	"github.com/abdul-hamid-achik/hitwire/packages/core/config"
	hwerrors "github.com/abdul-hamid-achik/hitwire/packages/errors"
	"github.com/abdul-hamid-achik/hitwire/packages/history"
	hwhttp "github.com/abdul-hamid-achik/hitwire/packages/http"
	"github.com/abdul-hamid-achik/hitwire/packages/output"
	"github.com/abdul-hamid-achik/hitwire/packages/stats"
)

var runCmd = &cobra.Command{
	Use:   "run <url>",
	Short: "Send a request and print the response",
	Long: `Send an HTTP request, follow redirects within the budget and print the
response. With -v the full timeline is printed: DNS lookups, connects,
TLS handshakes with certificate chains, request and response headers.

Examples:
  hitwire run https://example.com
  hitwire run https://api.example.com/users -X POST --json '{"name":"ada"}'
  hitwire run https://api.example.com/upload -F title=report -F file=@report.pdf
  hitwire run https://internal.example.com --cacert ca.pem --proxy http://proxy:3128 -v
  hitwire run https://example.com --repeat 100 --rate 10 --concurrency 4
  hitwire run https://example.com --history runs.db`,
	Args: cobra.ExactArgs(1),
	RunE: runCommand,
}

var (
	runSettings settingsFlags

	methodFlag      string
	headerFlags     []string
	dataFlag        string
	jsonFlag        string
	formFlags       []string
	repeatFlag      int
	rateFlag        float64
	concurrencyFlag int
	historyFlag     string
	verboseFlag     bool
	noColorFlag     bool
	outputFlag      string
	watchCertsFlag  bool
)

func init() {
	runSettings.register(runCmd)

	// Request flags
	runCmd.Flags().StringVarP(&methodFlag, "request", "X", "", "HTTP method (default GET, or POST with a body)")
	runCmd.Flags().StringArrayVarP(&headerFlags, "header", "H", nil, "Request header \"Key: Value\" (repeatable)")
	runCmd.Flags().StringVarP(&dataFlag, "data", "d", "", "Raw request body; @file reads it from a file")
	runCmd.Flags().StringVar(&jsonFlag, "json", "", "JSON request body; @file reads it from a file")
	runCmd.Flags().StringArrayVarP(&formFlags, "form", "F", nil, "Multipart field name=value or name=@file (repeatable)")

	// Execution flags
	runCmd.Flags().IntVar(&repeatFlag, "repeat", getEnvInt("HITWIRE_REPEAT", 1), "Number of times to send the request (env: HITWIRE_REPEAT)")
	runCmd.Flags().Float64Var(&rateFlag, "rate", 0, "Maximum requests per second when repeating, 0 is unlimited")
	runCmd.Flags().IntVar(&concurrencyFlag, "concurrency", getEnvInt("HITWIRE_CONCURRENCY", 1), "Requests in flight when repeating (env: HITWIRE_CONCURRENCY)")
	runCmd.Flags().StringVar(&historyFlag, "history", getEnvString("HITWIRE_HISTORY", ""), "Record runs in this SQLite database (env: HITWIRE_HISTORY)")
	runCmd.Flags().BoolVar(&watchCertsFlag, "watch-certs", false, "Reload CA certificates when trust store files change")

	// Output flags
	runCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", getEnvBool("HITWIRE_VERBOSE", false), "Print the full timeline (env: HITWIRE_VERBOSE)")
	runCmd.Flags().BoolVar(&noColorFlag, "no-color", getEnvBool("HITWIRE_NO_COLOR", false), "Disable colored output (env: HITWIRE_NO_COLOR)")
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("HITWIRE_OUTPUT", "console"), "Output format: console, json (env: HITWIRE_OUTPUT)")
}

// Formatter interface for all output formatters
type Formatter interface {
	FormatResult(result output.Result)
	FormatSummary(s *stats.Summary)
	FormatError(err error)
	FormatHeader(version string)
}

// Flushable interface for formatters that need to flush output
type Flushable interface {
	Flush(totalDuration time.Duration) error
}

func newFormatter(w io.Writer, cfg *config.Config) Formatter {
	switch strings.ToLower(outputFlag) {
	case "json":
		return output.NewJSONFormatter(output.JSONWithWriter(w))
	default: // "console"
		return output.NewConsoleFormatter(
			output.WithWriter(w),
			output.WithVerbose(verboseFlag || cfg.GetVerbose()),
			output.WithNoColor(noColorFlag || cfg.GetNoColor()),
		)
	}
}

func runCommand(cmd *cobra.Command, args []string) error {
	cfg, err := runSettings.load(cmd)
	if err != nil {
		return configExit(err)
	}
	if repeatFlag < 1 {
		return &ExitError{Code: ExitUsageError, Err: fmt.Errorf("--repeat must be at least 1")}
	}

	req, err := buildRunRequest(args[0], cfg)
	if err != nil {
		return configExit(err)
	}

	e, err := newEngine(cfg)
	if err != nil {
		return configExit(err)
	}
	defer func() { _ = e.logger.Sync() }()

	formatter := newFormatter(cmd.OutOrStdout(), cfg)
	if verboseFlag {
		formatter.FormatHeader(version)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *history.Store
	if historyFlag != "" {
		store, err = history.Open(historyFlag)
		if err != nil {
			return configExit(&hwerrors.ConfigurationError{Key: "history", Reason: "cannot open history database", Cause: err})
		}
		defer store.Close()
	}

	if watchCertsFlag {
		if err := watchCertificates(ctx, e, cfg); err != nil {
			e.logger.Warn("certificate watching disabled", zap.Error(err))
		}
	}

	var limiter *rate.Limiter
	if rateFlag > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateFlag), 1)
	}

	recorder := stats.NewRecorder()
	var (
		mu    sync.Mutex
		worst = ExitSuccess
		g     errgroup.Group
	)
	g.SetLimit(max(concurrencyFlag, 1))

	startTime := time.Now()
	recorder.Start()
	for i := 0; i < repeatFlag; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			started := time.Now()
			resp, err := e.client.Do(ctx, req)
			result := output.Result{Method: req.Method, URL: req.URL, Response: resp, Err: err}
			code := exitCodeFor(err)

			recorder.Record(time.Since(started), result.Status(), redirectsOf(resp, err), err == nil)

			mu.Lock()
			formatter.FormatResult(result)
			if exitPriority(code) > exitPriority(worst) {
				worst = code
			}
			mu.Unlock()

			if store != nil {
				if err := store.Record(ctx, historyRun(started, result)); err != nil {
					e.logger.Warn("failed to record run", zap.Error(err))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	recorder.Stop()

	if repeatFlag > 1 {
		formatter.FormatSummary(recorder.Summary())
	}
	if flushable, ok := formatter.(Flushable); ok {
		if err := flushable.Flush(time.Since(startTime)); err != nil {
			return fmt.Errorf("error writing output: %w", err)
		}
	}

	if worst != ExitSuccess {
		return &ExitError{Code: worst, Err: fmt.Errorf("request failed"), Silent: true}
	}
	return nil
}

// buildRunRequest turns the request flags into a request.
func buildRunRequest(rawURL string, cfg *config.Config) (*hwhttp.Request, error) {
	method := strings.ToUpper(methodFlag)
	hasBody := dataFlag != "" || jsonFlag != "" || len(formFlags) > 0
	if method == "" {
		method = "GET"
		if hasBody {
			method = "POST"
		}
	}

	bodies := 0
	for _, set := range []bool{dataFlag != "", jsonFlag != "", len(formFlags) > 0} {
		if set {
			bodies++
		}
	}
	if bodies > 1 {
		return nil, &hwerrors.ConfigurationError{Key: "body", Reason: "--data, --json and --form are mutually exclusive"}
	}

	req := hwhttp.NewRequest(method, rawURL)
	applyConfig(req, cfg, runSettings.collection)

	for _, h := range headerFlags {
		key, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, &hwerrors.ConfigurationError{Key: "header", Reason: fmt.Sprintf("invalid header %q, expected \"Key: Value\"", h)}
		}
		req.SetHeader(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	switch {
	case dataFlag != "":
		body, err := readArg(dataFlag)
		if err != nil {
			return nil, &hwerrors.ConfigurationError{Key: "data", Reason: "cannot read body", Cause: err}
		}
		req.SetBody(body)
	case jsonFlag != "":
		body, err := readArg(jsonFlag)
		if err != nil {
			return nil, &hwerrors.ConfigurationError{Key: "json", Reason: "cannot read body", Cause: err}
		}
		var v any
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return nil, &hwerrors.ConfigurationError{Key: "json", Reason: "body is not valid JSON", Cause: err}
		}
		req.SetJSON(v)
	case len(formFlags) > 0:
		fields, err := parseFormFields(formFlags)
		if err != nil {
			return nil, err
		}
		req.SetMultipart(fields...)
	}

	return req, nil
}

// readArg returns value, or the content of the file when value starts
// with @.
func readArg(value string) (string, error) {
	if !strings.HasPrefix(value, "@") {
		return value, nil
	}
	data, err := os.ReadFile(strings.TrimPrefix(value, "@"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func parseFormFields(args []string) ([]hwhttp.MultipartField, error) {
	fields := make([]hwhttp.MultipartField, 0, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, &hwerrors.ConfigurationError{Key: "form", Reason: fmt.Sprintf("invalid form field %q, expected name=value or name=@file", arg)}
		}
		if strings.HasPrefix(value, "@") {
			fields = append(fields, hwhttp.MultipartField{Name: name, Path: strings.TrimPrefix(value, "@")})
			continue
		}
		fields = append(fields, hwhttp.MultipartField{Name: name, Value: value})
	}
	return fields, nil
}

// watchCertificates purges cached agents whenever a trust store file
// changes, so the next request builds its TLS config from fresh roots.
func watchCertificates(ctx context.Context, e *engine, cfg *config.Config) error {
	paths := e.aggregator.WatchPaths()
	if p := cfg.CACertFilePath(); p != "" {
		paths = append(paths, p)
	}
	if p := os.Getenv(certs.ExtraCACertsEnv); p != "" {
		paths = append(paths, p)
	}

	w, err := certs.NewWatcher(e.aggregator, paths, e.logger.Named("certs"))
	if err != nil {
		return err
	}
	w.OnChange = func(path string) {
		e.factory.Purge()
	}
	go func() {
		if err := w.Run(ctx); err != nil {
			e.logger.Warn("certificate watcher stopped", zap.Error(err))
		}
	}()
	return nil
}

func redirectsOf(resp *hwhttp.Response, err error) int {
	if resp != nil {
		return resp.Redirects
	}
	var reqErr *hwhttp.RequestError
	if errors.As(err, &reqErr) && reqErr.Response != nil {
		return reqErr.Response.Redirects
	}
	return 0
}

// historyRun converts a result into a history row.
func historyRun(started time.Time, r output.Result) history.Run {
	run := history.Run{
		StartedAt: started,
		Method:    r.Method,
		URL:       r.URL,
		Status:    r.Status(),
		Redirects: redirectsOf(r.Response, r.Err),
		Duration:  time.Since(started),
		Timeline:  r.Timeline(),
	}

	var reqErr *hwhttp.RequestError
	switch {
	case r.Response != nil:
		run.ID = r.Response.RequestID
		run.StatusCode = r.Response.StatusCode
		run.Duration = r.Response.TotalTime
	case errors.As(r.Err, &reqErr):
		run.ID = reqErr.RequestID
		run.Code = reqErr.Code
		if reqErr.Response != nil {
			run.StatusCode = reqErr.Response.StatusCode
			run.Duration = reqErr.Response.TotalTime
		}
	}
	if run.ID == "" {
		run.ID = fmt.Sprintf("local-%d", started.UnixNano())
	}
	return run
}
