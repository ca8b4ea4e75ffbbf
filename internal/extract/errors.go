package extract

import (
	"fmt"

	"joboffers/internal/selector"
)

// FieldLookupError reports that the element a field needs is absent.
type FieldLookupError struct {
	Field   string
	Locator selector.Locator
	What    string
}

func (e *FieldLookupError) Error() string {
	what := e.What
	if what == "" {
		what = "element"
	}
	return fmt.Sprintf("field %s: %s not found (tag=%q class=%q)", e.Field, what, e.Locator.Tag, e.Locator.Class)
}

// FormatError reports text that does not match the pattern a field expects.
type FormatError struct {
	Field   string
	Text    string
	Pattern string
	Err     error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("field %s: invalid value %q: %v", e.Field, e.Text, e.Err)
	}
	return fmt.Sprintf("field %s: %q does not match %s", e.Field, e.Text, e.Pattern)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ConfigError aborts a single document or record: unknown source, unreadable
// or malformed input.
type ConfigError struct {
	Source string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Reason
	if e.Source != "" {
		msg = e.Source + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }
