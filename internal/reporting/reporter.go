// internal/reporting/reporter.go
package reporting

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-recorder/api/schemas"
	"github.com/xkilldash9x/scalpel-recorder/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SecretKeyHeader carries the reporting credential.
const SecretKeyHeader = "secret-key"

const defaultTimeout = 10 * time.Second

// Reporter delivers the final script to the completion endpoint.
type Reporter interface {
	Report(ctx context.Context, script schemas.Script) error
}

// ReportingError reports a failed completion call. It never changes the exit code.
type ReportingError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *ReportingError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("completion report to %s rejected with status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("completion report to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ReportingError) Unwrap() error { return e.Err }

// CompletionEvent is the body POSTed to the endpoint.
type CompletionEvent struct {
	EventName     string `json:"eventName"`
	TaskID        string `json:"taskId"`
	JourneyID     string `json:"journeyId"`
	InTargetGroup bool   `json:"inTargetGroup"`
}

// NopReporter discards reports.
type NopReporter struct{}

func (NopReporter) Report(context.Context, schemas.Script) error { return nil }

// HTTPReporter POSTs a CompletionEvent with fixed headers.
type HTTPReporter struct {
	cfg    config.ReportingConfig
	client *http.Client
	logger *zap.Logger
}

// New returns the reporter selected by the configuration.
func New(cfg config.ReportingConfig, client *http.Client, logger *zap.Logger) Reporter {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return NopReporter{}
	}
	return NewHTTPReporter(cfg, client, logger)
}

// NewHTTPReporter creates a reporter for cfg.Endpoint. A nil client selects
// one bounded by cfg.Timeout.
func NewHTTPReporter(cfg config.ReportingConfig, client *http.Client, logger *zap.Logger) *HTTPReporter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPReporter{cfg: cfg, client: client, logger: logger.Named("reporting")}
}

// Report sends the script text as the task identifier of a completion event.
func (r *HTTPReporter) Report(ctx context.Context, script schemas.Script) error {
	body, err := json.Marshal(CompletionEvent{
		EventName:     r.cfg.EventName,
		TaskID:        script.Text,
		JourneyID:     r.cfg.JourneyID,
		InTargetGroup: r.cfg.InTargetGroup,
	})
	if err != nil {
		return &ReportingError{Endpoint: r.cfg.Endpoint, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return &ReportingError{Endpoint: r.cfg.Endpoint, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.cfg.Headers {
		req.Header.Set(k, v)
	}
	if r.cfg.SecretKey != "" {
		req.Header.Set(SecretKeyHeader, r.cfg.SecretKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return &ReportingError{Endpoint: r.cfg.Endpoint, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ReportingError{Endpoint: r.cfg.Endpoint, StatusCode: resp.StatusCode}
	}
	r.logger.Info("Script saved successfully.", zap.Int("status", resp.StatusCode))
	return nil
}
