package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dreamwire/TGMediaBot/internal/provider"
)

// Status is the terminal (or in-flight) state of a generation run.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected" // provider-reported failure in any form
	StatusTimedOut   Status = "timed_out"
)

// Policy bounds a single run of the submit-poll loop.
type Policy struct {
	// PollCap clamps per-iteration waits regardless of the provider's eta.
	PollCap time.Duration
	// TotalTimeout bounds the whole run, submit included.
	TotalTimeout time.Duration
	// MaxRetries is how many consecutive transport failures a poll survives.
	MaxRetries int
	// RetryBackoff computes the wait before retry attempt n (1-based).
	RetryBackoff func(attempt int) time.Duration
	// Download fetches the artifact bytes after completion when set.
	Download bool
}

// DefaultPolicy mirrors the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		PollCap:      8 * time.Second,
		TotalTimeout: 480 * time.Second,
		MaxRetries:   3,
		RetryBackoff: func(attempt int) time.Duration {
			s := 3 + attempt
			if s > 8 {
				s = 8
			}
			return time.Duration(s) * time.Second
		},
	}
}

// Result is what a run produces. Rejected and TimedOut are ordinary results,
// not errors: the run itself worked, the job did not.
type Result struct {
	Status    Status
	JobID     string
	ResultURL string
	Bytes     []byte
	Detail    string
}

// ResultShapeError marks a completed job whose envelope carried no
// recognizable artifact link. It is a provider contract violation, distinct
// from rejection and from transport failure.
type ResultShapeError struct {
	Provider string
	JobID    string
}

func (e *ResultShapeError) Error() string {
	return fmt.Sprintf("%s job %s completed without a result link", e.Provider, e.JobID)
}

// Runner drives an adapter through submit, bounded polling and artifact
// retrieval under a Policy.
type Runner struct {
	log        *slog.Logger
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Runner)

// WithSleeper replaces the wait primitive, used by tests to observe waits
// without real time passing.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runner) { r.sleep = fn }
}

func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) { r.httpClient = c }
}

func NewRunner(log *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		log:        log,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run submits the payload and polls until a terminal state or the policy's
// deadline runs out. Errors are reserved for contract violations and context
// cancellation; provider-side rejection and exhausted deadlines come back as
// Results.
func (r *Runner) Run(ctx context.Context, adapter provider.Adapter, p provider.Payload, policy Policy) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, policy.TotalTimeout)
	defer cancel()

	log := r.log.With("provider", adapter.Name())

	out, err := adapter.Submit(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	log.Info("job submitted", "status", out.Status, "job_id", out.JobID)

	for {
		switch out.Status {
		case provider.StatusRejected:
			log.Warn("job rejected", "job_id", out.JobID, "detail", out.Detail)
			return &Result{Status: StatusRejected, JobID: out.JobID, Detail: out.Detail}, nil

		case provider.StatusCompleted:
			if out.ResultURL == "" {
				return nil, &ResultShapeError{Provider: adapter.Name(), JobID: out.JobID}
			}
			res := &Result{Status: StatusCompleted, JobID: out.JobID, ResultURL: out.ResultURL}
			if policy.Download {
				data, err := r.download(ctx, out.ResultURL)
				if err != nil {
					log.Warn("artifact download failed, returning link only", "error", err)
				} else {
					res.Bytes = data
				}
			}
			log.Info("job completed", "job_id", out.JobID, "url", out.ResultURL)
			return res, nil

		case provider.StatusProcessing:
			wait := pollWait(out.ETASeconds, policy.PollCap)
			if err := r.sleep(ctx, wait); err != nil {
				return timedOut(out, err)
			}

			next, err := r.pollWithRetry(ctx, adapter, out, policy, log)
			if err != nil {
				if ctx.Err() != nil || provider.IsTransport(err) {
					return timedOut(out, err)
				}
				return nil, err
			}
			out = next

		default:
			return nil, fmt.Errorf("%s: unknown outcome status %q", adapter.Name(), out.Status)
		}
	}
}

// pollWithRetry makes one logical poll, absorbing up to MaxRetries
// consecutive transport failures with backoff.
func (r *Runner) pollWithRetry(ctx context.Context, adapter provider.Adapter, prev *provider.Outcome, policy Policy, log *slog.Logger) (*provider.Outcome, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn("poll retry", "attempt", attempt, "error", lastErr)
			if err := r.sleep(ctx, policy.RetryBackoff(attempt)); err != nil {
				return nil, lastErr
			}
		}
		out, err := adapter.PollOnce(ctx, prev)
		if err == nil {
			return out, nil
		}
		if !provider.IsTransport(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// pollWait clamps the provider's eta hint to [1s, cap].
func pollWait(etaSeconds int, cap time.Duration) time.Duration {
	if etaSeconds < 1 {
		etaSeconds = 1
	}
	d := time.Duration(etaSeconds) * time.Second
	if d > cap {
		d = cap
	}
	return d
}

func timedOut(out *provider.Outcome, cause error) (*Result, error) {
	detail := "the job is still processing"
	if cause != nil && cause != context.DeadlineExceeded {
		detail = cause.Error()
	}
	return &Result{Status: StatusTimedOut, JobID: out.JobID, Detail: detail}, nil
}

func (r *Runner) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch artifact: http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
