package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	hwhttp "github.com/abdul-hamid-achik/hitwire/packages/http"
	"github.com/abdul-hamid-achik/hitwire/packages/history"
	"github.com/abdul-hamid-achik/hitwire/packages/stats"
	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

// Result is the outcome of one logical request.
type Result struct {
	Method   string
	URL      string
	Response *hwhttp.Response
	Err      error
}

// Timeline returns the trace of the request, from the response or from
// the request error.
func (r Result) Timeline() []timeline.Entry {
	if r.Response != nil {
		return r.Response.Timeline
	}
	var reqErr *hwhttp.RequestError
	if errors.As(r.Err, &reqErr) {
		return reqErr.Timeline
	}
	return nil
}

// Status returns the status shown to the user: the HTTP status code or
// the transport error code.
func (r Result) Status() string {
	var reqErr *hwhttp.RequestError
	if errors.As(r.Err, &reqErr) {
		return reqErr.Status
	}
	if r.Response != nil {
		return fmt.Sprintf("%d", r.Response.StatusCode)
	}
	return ""
}

// formatValue truncates long values for display
func formatValue(v string, maxLen int) string {
	if len(v) > maxLen {
		return v[:maxLen] + "..."
	}
	return v
}

type ConsoleFormatter struct {
	writer  io.Writer
	verbose bool
	noColor bool
	maxBody int
}

type ConsoleOption func(*ConsoleFormatter)

func NewConsoleFormatter(opts ...ConsoleOption) *ConsoleFormatter {
	f := &ConsoleFormatter{
		writer:  os.Stdout,
		maxBody: 4096,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.noColor {
		color.NoColor = true
	}
	return f
}

func WithWriter(w io.Writer) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.writer = w
	}
}

// WithVerbose prints the full timeline and untruncated bodies.
func WithVerbose(v bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.verbose = v
	}
}

func WithNoColor(nc bool) ConsoleOption {
	return func(f *ConsoleFormatter) {
		f.noColor = nc
	}
}

// timelinePrefix maps entry types to curl-like markers.
var timelinePrefix = map[timeline.Type]string{
	timeline.TypeInfo:           "* ",
	timeline.TypeTLS:            "* ",
	timeline.TypeRequest:        "> ",
	timeline.TypeRequestHeader:  "> ",
	timeline.TypeRequestData:    "| ",
	timeline.TypeResponse:       "< ",
	timeline.TypeResponseHeader: "< ",
	timeline.TypeError:          "! ",
}

// FormatTimeline prints the trace one entry per line.
func (f *ConsoleFormatter) FormatTimeline(entries []timeline.Entry) {
	dim := color.New(color.Faint).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	for _, e := range entries {
		if e.Type == timeline.TypeSeparator {
			fmt.Fprintln(f.writer, dim(strings.Repeat("-", 40)))
			continue
		}

		line := timelinePrefix[e.Type] + e.Message
		switch e.Type {
		case timeline.TypeTLS:
			line = cyan(line)
		case timeline.TypeError:
			line = red(line)
		case timeline.TypeRequest, timeline.TypeResponse:
			line = bold(line)
		case timeline.TypeInfo:
			line = dim(line)
		}

		// Multi-line messages such as request bodies keep their prefix.
		fmt.Fprintln(f.writer, strings.ReplaceAll(line, "\n", "\n"+timelinePrefix[e.Type]))
	}
}

// FormatResult prints the outcome of one request. The timeline is printed
// in verbose mode and always on failure.
func (f *ConsoleFormatter) FormatResult(r Result) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	if f.verbose || r.Err != nil {
		f.FormatTimeline(r.Timeline())
		fmt.Fprintln(f.writer)
	}

	if r.Err != nil {
		fmt.Fprintf(f.writer, "%s %s %s %s\n", red("✗"), r.Method, r.URL, red(fmt.Sprintf("(%s)", r.Status())))
		f.FormatError(r.Err)
		return
	}

	resp := r.Response
	status := green(resp.Status)
	if resp.IsRedirect() {
		status = yellow(resp.Status)
	}
	fmt.Fprintf(f.writer, "%s %s %s %s %s\n", green("✓"), r.Method, resp.URL, status,
		cyan(fmt.Sprintf("(%dms, %d redirects)", resp.TotalTime.Milliseconds(), resp.Redirects)))

	if len(resp.Body) == 0 {
		return
	}
	body := resp.BodyString()
	if !f.verbose {
		body = formatValue(body, f.maxBody)
	}
	fmt.Fprintln(f.writer, body)
}

// FormatSummary prints latency percentiles of repeated runs.
func (f *ConsoleFormatter) FormatSummary(s *stats.Summary) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(f.writer, "\n%s\n", bold("Summary"))
	fmt.Fprintf(f.writer, "Requests: %d total, %s, %s (%.2f req/s)\n",
		s.Total,
		green(fmt.Sprintf("%d succeeded", s.Success)),
		red(fmt.Sprintf("%d failed", s.Failed)),
		s.RPS,
	)
	fmt.Fprintf(f.writer, "Redirects followed: %d\n", s.Redirects)
	fmt.Fprintf(f.writer, "Latency: min %s  p50 %s  p90 %s  p95 %s  p99 %s  max %s\n",
		s.Min, s.P50, s.P90, s.P95, s.P99, s.Max)
	fmt.Fprintf(f.writer, "         mean %s  stddev %s\n", s.Mean, s.StdDev)
	if len(s.Codes) > 0 {
		parts := make([]string, len(s.Codes))
		for i, c := range s.Codes {
			parts[i] = fmt.Sprintf("%s=%d", c.Code, c.Count)
		}
		fmt.Fprintf(f.writer, "Status: %s\n", strings.Join(parts, " "))
	}
}

// FormatRuns prints stored history rows, newest first.
func (f *ConsoleFormatter) FormatRuns(runs []history.Run) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	if len(runs) == 0 {
		fmt.Fprintln(f.writer, "No runs recorded.")
		return
	}
	for _, run := range runs {
		status := green(run.Status)
		if run.Code != "" || run.StatusCode >= 300 {
			status = red(run.Status)
		}
		fmt.Fprintf(f.writer, "%s  %s  %-6s %s  %s  %dms  %d redirects\n",
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.ID,
			run.Method,
			formatValue(run.URL, 80),
			status,
			run.Duration.Milliseconds(),
			run.Redirects,
		)
		if f.verbose {
			f.FormatTimeline(run.Timeline)
		}
	}
}

func (f *ConsoleFormatter) FormatError(err error) {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(f.writer, "%s %v\n", red("Error:"), err)
}

func (f *ConsoleFormatter) FormatHeader(version string) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(f.writer, "%s %s\n", bold("hitwire"), version)
}
