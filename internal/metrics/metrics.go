// Package metrics is the backend-neutral metrics facade used by ingestion,
// reconciliation and reporting. Components receive a Backend at
// construction; a nil Backend behaves like Nop.
package metrics

import "time"

// Labels are metric dimensions, e.g. {"outcome": "inserted"}.
type Labels map[string]string

// Backend receives counter increments and histogram observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by this module.
const (
	UpsertTotal         = "offers_upsert_total"
	BatchRowsTotal      = "offers_batch_rows_total"
	CollapsedTotal      = "offers_collapsed_total"
	FieldErrorsTotal    = "offers_field_errors_total"
	DocumentsTotal      = "offers_documents_total"
	HTTPRequestsTotal   = "offers_http_requests_total"
	StepDurationSeconds = "offers_step_duration_seconds"
)

// Nop discards everything.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Flush() error                             { return nil }

// OrNop returns b, or Nop when b is nil.
func OrNop(b Backend) Backend {
	if b == nil {
		return Nop{}
	}
	return b
}

// ObserveStep records the duration of a named step with its status
// ("ok" or "error").
func ObserveStep(b Backend, step string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	OrNop(b).ObserveHistogram(StepDurationSeconds, time.Since(start).Seconds(), Labels{
		"step":   step,
		"status": status,
	})
}

var _ Backend = Nop{}
