package output

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/abdul-hamid-achik/hitwire/packages/stats"
	"github.com/abdul-hamid-achik/hitwire/packages/timeline"
)

// JSONOutput represents the complete JSON output structure
type JSONOutput struct {
	Runs     []JSONRun    `json:"runs"`
	Summary  *JSONSummary `json:"summary,omitempty"`
	Duration float64      `json:"duration"`
	Time     string       `json:"time"`
}

// JSONRun represents one logical request
type JSONRun struct {
	Method   string           `json:"method"`
	URL      string           `json:"url"`
	Status   string           `json:"status"`
	Error    string           `json:"error,omitempty"`
	Response *JSONResponse    `json:"response,omitempty"`
	Timeline []timeline.Entry `json:"timeline"`
}

// JSONResponse represents response details
type JSONResponse struct {
	StatusCode int                 `json:"statusCode"`
	Status     string              `json:"status"`
	URL        string              `json:"url"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       string              `json:"body,omitempty"`
	Redirects  int                 `json:"redirects"`
	Duration   float64             `json:"duration"`
	RequestID  string              `json:"requestId"`
}

// JSONSummary represents latency statistics of repeated runs
type JSONSummary struct {
	Total     int64            `json:"total"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	Redirects int64            `json:"redirects"`
	RPS       float64          `json:"rps"`
	P50       float64          `json:"p50"`
	P90       float64          `json:"p90"`
	P95       float64          `json:"p95"`
	P99       float64          `json:"p99"`
	Min       float64          `json:"min"`
	Max       float64          `json:"max"`
	Mean      float64          `json:"mean"`
	Codes     map[string]int64 `json:"codes,omitempty"`
}

// JSONFormatter accumulates results and writes them as one document
type JSONFormatter struct {
	writer  io.Writer
	runs    []JSONRun
	summary *JSONSummary
}

type JSONOption func(*JSONFormatter)

func NewJSONFormatter(opts ...JSONOption) *JSONFormatter {
	f := &JSONFormatter{
		writer: os.Stdout,
		runs:   make([]JSONRun, 0),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func JSONWithWriter(w io.Writer) JSONOption {
	return func(f *JSONFormatter) {
		f.writer = w
	}
}

func (f *JSONFormatter) FormatResult(r Result) {
	run := JSONRun{
		Method:   r.Method,
		URL:      r.URL,
		Status:   r.Status(),
		Timeline: r.Timeline(),
	}
	if run.Timeline == nil {
		run.Timeline = []timeline.Entry{}
	}
	if r.Err != nil {
		run.Error = r.Err.Error()
	}
	if resp := r.Response; resp != nil {
		run.Response = &JSONResponse{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        resp.URL,
			Headers:    resp.Headers,
			Body:       resp.BodyString(),
			Redirects:  resp.Redirects,
			Duration:   ms(resp.TotalTime),
			RequestID:  resp.RequestID,
		}
	}
	f.runs = append(f.runs, run)
}

func (f *JSONFormatter) FormatSummary(s *stats.Summary) {
	codes := make(map[string]int64, len(s.Codes))
	for _, c := range s.Codes {
		codes[c.Code] = c.Count
	}
	f.summary = &JSONSummary{
		Total:     s.Total,
		Success:   s.Success,
		Failed:    s.Failed,
		Redirects: s.Redirects,
		RPS:       s.RPS,
		P50:       ms(s.P50),
		P90:       ms(s.P90),
		P95:       ms(s.P95),
		P99:       ms(s.P99),
		Min:       ms(s.Min),
		Max:       ms(s.Max),
		Mean:      ms(s.Mean),
		Codes:     codes,
	}
}

func (f *JSONFormatter) FormatError(err error) {
	// Errors are included in individual runs
}

func (f *JSONFormatter) FormatHeader(version string) {
	// No header needed for JSON output
}

// Flush writes the accumulated JSON output
func (f *JSONFormatter) Flush(totalDuration time.Duration) error {
	output := JSONOutput{
		Runs:     f.runs,
		Summary:  f.summary,
		Duration: ms(totalDuration),
		Time:     time.Now().Format(time.RFC3339),
	}

	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// ms converts a duration to fractional milliseconds.
func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
