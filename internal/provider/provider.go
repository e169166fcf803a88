package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status is the normalized three-state classification every adapter maps
// its provider's envelope onto. Rejected covers every terminal failure the
// provider itself reports, whether an explicit error payload, a job that
// ran and failed, or a content flag; callers never see those separately.
type Status string

const (
	StatusCompleted  Status = "completed"  // artifact link already present
	StatusProcessing Status = "processing" // poll handle issued
	StatusRejected   Status = "rejected"   // provider-reported terminal failure
)

// Payload is the provider-independent request.
type Payload struct {
	Prompt      string
	ImageURL    string
	AspectRatio string
	Duration    int    // seconds, video modes
	Size        string // e.g. "1280x720"
	Resolution  string // e.g. "1K"
}

// Outcome is the classified result of a submit or poll call.
//
// StatusCompleted: ResultURL should be set (empty means the provider's
// envelope drifted and the caller must treat it as a contract violation).
// StatusProcessing: JobID and/or PollURL identify the job; ETASeconds is the
// provider's hint, zero when absent.
// StatusRejected: Detail carries the provider's reason, whatever form the
// failure took on the wire.
type Outcome struct {
	Status     Status
	JobID      string
	PollURL    string
	ResultURL  string
	ETASeconds int
	Detail     string
}

// Adapter hides one provider's wire format behind the three-state contract.
type Adapter interface {
	Name() string
	Submit(ctx context.Context, p Payload) (*Outcome, error)
	PollOnce(ctx context.Context, prev *Outcome) (*Outcome, error)
}

// TransportError covers network failures, non-2xx responses and bodies that
// do not decode. These are the only retryable provider failures.
type TransportError struct {
	Provider string
	Op       string
	Status   int // HTTP status when known, 0 otherwise
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: http %d: %v", e.Provider, e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func transportErr(provider, op string, status int, err error) *TransportError {
	return &TransportError{Provider: provider, Op: op, Status: status, Err: err}
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
