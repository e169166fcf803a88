package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamwire/TGMediaBot/internal/provider"
)

type scripted struct {
	out *provider.Outcome
	err error
}

type fakeAdapter struct {
	submit scripted
	polls  []scripted
	polled int
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Submit(context.Context, provider.Payload) (*provider.Outcome, error) {
	return f.submit.out, f.submit.err
}

func (f *fakeAdapter) PollOnce(context.Context, *provider.Outcome) (*provider.Outcome, error) {
	if f.polled >= len(f.polls) {
		return nil, errors.New("unexpected poll")
	}
	s := f.polls[f.polled]
	f.polled++
	return s.out, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRunner records every wait instead of sleeping.
func testRunner(sleeps *[]time.Duration) *Runner {
	return NewRunner(testLogger(), WithSleeper(func(ctx context.Context, d time.Duration) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		*sleeps = append(*sleeps, d)
		return nil
	}))
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.TotalTimeout = time.Hour
	return p
}

func TestRunImmediateCompletion(t *testing.T) {
	adapter := &fakeAdapter{
		submit: scripted{out: &provider.Outcome{Status: provider.StatusCompleted, JobID: "j1", ResultURL: "https://cdn.example.com/a.mp4"}},
	}
	var sleeps []time.Duration
	r := testRunner(&sleeps)

	res, err := r.Run(context.Background(), adapter, provider.Payload{Prompt: "x"}, testPolicy())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "https://cdn.example.com/a.mp4", res.ResultURL)
	assert.Empty(t, sleeps)
	assert.Zero(t, adapter.polled)
}

func TestRunPollsUntilCompleted(t *testing.T) {
	adapter := &fakeAdapter{
		submit: scripted{out: &provider.Outcome{Status: provider.StatusProcessing, JobID: "j1", PollURL: "https://p", ETASeconds: 2}},
		polls: []scripted{
			{out: &provider.Outcome{Status: provider.StatusProcessing, JobID: "j1", PollURL: "https://p", ETASeconds: 2}},
			{out: &provider.Outcome{Status: provider.StatusCompleted, JobID: "j1", ResultURL: "https://cdn.example.com/a.mp4"}},
		},
	}
	var sleeps []time.Duration
	r := testRunner(&sleeps)

	res, err := r.Run(context.Background(), adapter, provider.Payload{Prompt: "x"}, testPolicy())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, adapter.polled)

	// Every wait honors the eta hint.
	require.Len(t, sleeps, 2)
	for _, d := range sleeps {
		assert.GreaterOrEqual(t, d, 2*time.Second)
	}
}

func TestRunClampsEtaToPollCap(t *testing.T) {
	adapter := &fakeAdapter{
		submit: scripted{out: &provider.Outcome{Status: provider.StatusProcessing, JobID: "j1", ETASeconds: 600}},
		polls: []scripted{
			{out: &provider.Outcome{Status: provider.StatusCompleted, JobID: "j1", ResultURL: "https://cdn.example.com/a.mp4"}},
		},
	}
	var sleeps []time.Duration
	r := testRunner(&sleeps)

	_, err := r.Run(context.Background(), adapter, provider.Payload{}, testPolicy())
	require.NoError(t, err)
	require.Len(t, sleeps, 1)
	assert.Equal(t, 8*time.Second, sleeps[0])
}

func TestRunZeroEtaStillWaits(t *testing.T) {
	adapter := &fakeAdapter{
		submit: scripted{out: &provider.Outcome{Status: provider.StatusProcessing, JobID: "j1"}},
		polls: []scripted{
			{out: &provider.Outcome{Status: provider.StatusCompleted, JobID: "j1", ResultURL: "https://cdn.example.com/a.mp4"}},
		},
	}
	var sleeps []time.Duration
	r := testRunner(&sleeps)

	_, err := r.Run(context.Background(), adapter, provider.Payload{}, testPolicy())
	require.NoError(t, err)
	require.Len(t, sleeps, 1)
	assert.Equal(t, time.Second, sleeps[0])
}

func TestRunRejectionIsTerminal(t *testing.T) {
	adapter := &fakeAdapter{
		submit: scripted{out: &provider.Outcome{Status: provider.StatusProcessing, JobID: "j1", ETASeconds: 1}},
		polls: []scripted{
			{out: &provider.Outcome{Status: provider.StatusRejected, JobID: "j1", Detail: "nsfw"}},
		},
	}
	var sleeps []time.Duration
	r := testRunner(&sleeps)

	res, err := r.Run(context.Background(), adapter, provider.Payload{}, testPolicy())
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, "nsfw", res.Detail)
	// Rejection is never retried.
	assert.Equal(t, 1, adapter.polled)
}

func TestRunRetriesTransportFailures(t *testing.T) {
	transport := &provider.TransportError{Provider: "fake", Op: "poll", Err: errors.New("timeout")}
	adapter := &fakeAdapter{
		submit: scripted{out: &provider.Outcome{Status: provider.StatusProcessing, JobID: "j1", ETASeconds: 1}},
		polls: []scripted{
			{err: transport},
			{err: transport},
			{out: &provider.Outcome{Status: provider.StatusCompleted, JobID: "j1", ResultURL: "https://cdn.example.com/a.mp4"}},
		},
	}
	var sleeps []time.Duration
	r := testRunner(&sleeps)

	res, err := r.Run(context.Background(), adapter, provider.Payload{}, testPolicy())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, adapter.polled)
}

func TestRunGivesUpAfterMaxRetries(t *testing.T) {
	transport := &provider.TransportError{Provider: "fake", Op: "poll", Err: errors.New("timeout")}
	adapter := &fakeAdapter{
		submit: scripted{out: &provider.Outcome{Status: provider.StatusProcessing, JobID: "j1", ETASeconds: 1}},
		polls: []scripted{
			{err: transport}, {err: transport}, {err: transport}, {err: transport},
		},
	}
	var sleeps []time.Duration
	r := testRunner(&sleeps)

	policy := testPolicy()
	res, err := r.Run(context.Background(), adapter, provider.Payload{}, policy)
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Equal(t, "j1", res.JobID)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, policy.MaxRetries+1, adapter.polled)
}

func TestRunCompletedWithoutLinkIsShapeError(t *testing.T) {
	adapter := &fakeAdapter{
		submit: scripted{out: &provider.Outcome{Status: provider.StatusCompleted, JobID: "j1"}},
	}
	var sleeps []time.Duration
	r := testRunner(&sleeps)

	_, err := r.Run(context.Background(), adapter, provider.Payload{}, testPolicy())
	var shapeErr *ResultShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, "j1", shapeErr.JobID)
}

func TestRunTotalTimeout(t *testing.T) {
	adapter := &fakeAdapter{
		submit: scripted{out: &provider.Outcome{Status: provider.StatusProcessing, JobID: "j1", ETASeconds: 5}},
	}
	r := NewRunner(testLogger())

	policy := testPolicy()
	policy.TotalTimeout = 50 * time.Millisecond

	res, err := r.Run(context.Background(), adapter, provider.Payload{}, policy)
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Zero(t, adapter.polled)
}

func TestRunSubmitRejection(t *testing.T) {
	adapter := &fakeAdapter{
		submit: scripted{out: &provider.Outcome{Status: provider.StatusRejected, Detail: "bad prompt"}},
	}
	var sleeps []time.Duration
	r := testRunner(&sleeps)

	res, err := r.Run(context.Background(), adapter, provider.Payload{}, testPolicy())
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, res.Status)
	assert.Equal(t, "bad prompt", res.Detail)
}
