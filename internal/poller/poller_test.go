package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"inventory-agent/internal/domain"
	"inventory-agent/internal/usecase"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const request = "Consulta inventario: ABC, saldo, 1 día"

type fakeMailbox struct {
	mu        sync.Mutex
	batches   [][]domain.InboundMessage
	fetchErrs []error
	calls     int
	processed []string
}

func (f *fakeMailbox) FetchUnseen(context.Context) ([]domain.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.fetchErrs) && f.fetchErrs[i] != nil {
		return nil, f.fetchErrs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	return nil, nil
}

func (f *fakeMailbox) MarkProcessed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, id)
	return nil
}

type memSeen struct {
	mu     sync.Mutex
	ids    map[string]bool
	events *[]string
	err    error
}

func newMemSeen(events *[]string) *memSeen {
	return &memSeen{ids: map[string]bool{}, events: events}
}

func (s *memSeen) Seen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.ids[id], nil
}

func (s *memSeen) MarkSeen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[id] {
		return false, nil
	}
	s.ids[id] = true
	if s.events != nil {
		*s.events = append(*s.events, "mark:"+id)
	}
	return true, nil
}

type fakeProcessor struct {
	inputs []usecase.ProcessInput
	errs   []error
	events *[]string
	ctxErr []error
}

func (f *fakeProcessor) Process(ctx context.Context, in usecase.ProcessInput) (usecase.ProcessOutput, error) {
	i := len(f.inputs)
	f.inputs = append(f.inputs, in)
	f.ctxErr = append(f.ctxErr, ctx.Err())
	if f.events != nil {
		*f.events = append(*f.events, "process:"+in.MessageID)
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return usecase.ProcessOutput{}, f.errs[i]
	}
	return usecase.ProcessOutput{To: in.Sender, Body: "ok"}, nil
}

type statusErr int

func (e statusErr) Error() string        { return http.StatusText(int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(t *testing.T, mb Mailbox, seen SeenSet, proc Processor) *Poller {
	t.Helper()
	p, err := New(mb, seen, proc, discardLogger(), Config{
		Interval:         time.Second,
		MaxInterval:      8 * time.Second,
		FailureThreshold: 2,
	})
	require.NoError(t, err)
	return p
}

func msg(id, subject string) domain.InboundMessage {
	return domain.InboundMessage{ID: id, From: "test@foo.com", Subject: subject, MessageID: "<" + id + "@x>", ThreadID: "t-" + id}
}

func TestNew_ValidatesDependencies(t *testing.T) {
	_, err := New(nil, newMemSeen(nil), &fakeProcessor{}, discardLogger(), Config{})
	require.Error(t, err)
	_, err = New(&fakeMailbox{}, nil, &fakeProcessor{}, discardLogger(), Config{})
	require.Error(t, err)
	_, err = New(&fakeMailbox{}, newMemSeen(nil), nil, discardLogger(), Config{})
	require.Error(t, err)
	_, err = New(&fakeMailbox{}, newMemSeen(nil), &fakeProcessor{}, nil, Config{})
	require.Error(t, err)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, 30*time.Second, cfg.Interval)
	require.Equal(t, 300*time.Second, cfg.MaxInterval)
	require.Equal(t, 3, cfg.FailureThreshold)
}

func TestPollOnce_MarksBeforeProcessing(t *testing.T) {
	var events []string
	mb := &fakeMailbox{batches: [][]domain.InboundMessage{{msg("m1", request)}}}
	proc := &fakeProcessor{events: &events}
	p := newTestPoller(t, mb, newMemSeen(&events), proc)

	stats, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, Stats{Fetched: 1, Processed: 1}, stats)
	require.Equal(t, []string{"mark:m1", "process:m1"}, events)
	require.Equal(t, []string{"m1"}, mb.processed)

	in := proc.inputs[0]
	require.Equal(t, "test@foo.com", in.Sender)
	require.Equal(t, "t-m1", in.ThreadID)
	require.Equal(t, "<m1@x>", in.InReplyTo)
}

func TestPollOnce_SkipsSeenAndForeignSubjects(t *testing.T) {
	seen := newMemSeen(nil)
	seen.ids["old"] = true
	mb := &fakeMailbox{batches: [][]domain.InboundMessage{{
		msg("old", request),
		msg("spam", "Hola mundo"),
		msg("new", request),
	}}}
	proc := &fakeProcessor{}
	p := newTestPoller(t, mb, seen, proc)

	stats, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, stats.Fetched)
	require.Equal(t, 2, stats.Skipped)
	require.Equal(t, 1, stats.Processed)
	require.Len(t, proc.inputs, 1)
	require.Equal(t, "new", proc.inputs[0].MessageID)
	// foreign subjects are claimed too, so they are never looked at again
	require.True(t, seen.ids["spam"])
	require.Equal(t, []string{"old", "spam", "new"}, mb.processed)
}

func TestPollOnce_SkippedMessagesLeaveUnreadQuery(t *testing.T) {
	seen := newMemSeen(nil)
	// claimed by a run that stopped before replying
	seen.ids["m1"] = true
	batch := []domain.InboundMessage{
		msg("m1", request),
		msg("m2", "Re: "+request),
	}
	mb := &fakeMailbox{batches: [][]domain.InboundMessage{batch, batch}}
	proc := &fakeProcessor{}
	p := newTestPoller(t, mb, seen, proc)

	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	_, err = p.PollOnce(context.Background())
	require.NoError(t, err)

	require.Empty(t, proc.inputs)
	require.Equal(t, []string{"m1", "m2", "m1", "m2"}, mb.processed)
}

func TestPollOnce_BadRequestsDoNotCountAsFailures(t *testing.T) {
	malformed := &usecase.Error{Code: usecase.ErrorMalformedSubject, Reason: "missing_fields"}
	invalid := &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_sender"}
	mb := &fakeMailbox{batches: [][]domain.InboundMessage{{
		msg("m1", request), msg("m2", request), msg("m3", request),
	}}}
	proc := &fakeProcessor{errs: []error{malformed, invalid, malformed}}
	p := newTestPoller(t, mb, newMemSeen(nil), proc)

	stats, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, stats.Failed)
	require.Zero(t, p.failures)
	require.Equal(t, time.Second, p.nextDelay(stats, nil))
}

func TestPollOnce_SystemFailuresCount(t *testing.T) {
	mb := &fakeMailbox{batches: [][]domain.InboundMessage{{msg("m1", request), msg("m2", request)}}}
	proc := &fakeProcessor{errs: []error{
		&usecase.Error{Code: usecase.ErrorInternal, Reason: "store_query_error"},
		&usecase.Error{Code: usecase.ErrorDelivery, Reason: "mail_send_error"},
	}}
	p := newTestPoller(t, mb, newMemSeen(nil), proc)

	stats, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, p.failures)
	require.Equal(t, 2*time.Second, p.nextDelay(stats, nil))
}

func TestPollOnce_NoReprocessingAcrossScans(t *testing.T) {
	batch := []domain.InboundMessage{{From: "a@foo.com", Subject: request, Body: "hola"}}
	mb := &fakeMailbox{batches: [][]domain.InboundMessage{batch, batch}}
	proc := &fakeProcessor{}
	p := newTestPoller(t, mb, newMemSeen(nil), proc)

	_, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	stats, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Skipped)
	require.Len(t, proc.inputs, 1)
	require.Empty(t, mb.processed, "messages without a transport id are not marked")
}

func TestPollOnce_FailureDoesNotStopScan(t *testing.T) {
	mb := &fakeMailbox{batches: [][]domain.InboundMessage{{msg("m1", request), msg("m2", request)}}}
	proc := &fakeProcessor{errs: []error{errors.New("boom")}}
	p := newTestPoller(t, mb, newMemSeen(nil), proc)

	stats, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	require.Equal(t, 1, stats.Processed)
	require.Equal(t, []string{"m1", "m2"}, mb.processed)
}

func TestPollOnce_SeenSetError(t *testing.T) {
	seen := newMemSeen(nil)
	seen.err = errors.New("dynamodb down")
	proc := &fakeProcessor{}
	p := newTestPoller(t, &fakeMailbox{batches: [][]domain.InboundMessage{{msg("m1", request)}}}, seen, proc)

	_, err := p.PollOnce(context.Background())
	require.ErrorContains(t, err, "dynamodb down")
	require.Empty(t, proc.inputs)
}

func TestPollOnce_CanceledContextDoesNotStartNewWork(t *testing.T) {
	mb := &fakeMailbox{batches: [][]domain.InboundMessage{{msg("m1", request)}}}
	proc := &fakeProcessor{}
	p := newTestPoller(t, mb, newMemSeen(nil), proc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.PollOnce(ctx)
	require.NoError(t, err)
	require.Empty(t, proc.inputs)
}

func TestNextDelay_BackoffAndReset(t *testing.T) {
	p := newTestPoller(t, &fakeMailbox{}, newMemSeen(nil), &fakeProcessor{})

	require.Equal(t, time.Second, p.nextDelay(Stats{}, nil))
	require.Equal(t, 2*time.Second, p.nextDelay(Stats{RateLimited: true}, errors.New("429")))
	require.Equal(t, 4*time.Second, p.nextDelay(Stats{Failed: 1, RateLimited: true}, nil))
	require.Equal(t, 8*time.Second, p.nextDelay(Stats{RateLimited: true}, nil))
	require.Equal(t, 8*time.Second, p.nextDelay(Stats{RateLimited: true}, nil))
	// an idle scan keeps the current delay
	require.Equal(t, 8*time.Second, p.nextDelay(Stats{}, nil))
	require.Equal(t, time.Second, p.nextDelay(Stats{Processed: 1}, nil))
}

func TestNextDelay_ConsecutiveFailures(t *testing.T) {
	p := newTestPoller(t, &fakeMailbox{}, newMemSeen(nil), &fakeProcessor{})

	require.Equal(t, time.Second, p.nextDelay(Stats{}, errors.New("network")))
	require.Equal(t, 2*time.Second, p.nextDelay(Stats{}, errors.New("network")))
	require.Equal(t, 4*time.Second, p.nextDelay(Stats{}, errors.New("network")))

	p.failures = 0
	require.Equal(t, time.Second, p.nextDelay(Stats{Processed: 1}, nil))
}

func TestRun_BacksOffOnRateLimitAndStopsOnCancel(t *testing.T) {
	mb := &fakeMailbox{
		fetchErrs: []error{statusErr(http.StatusTooManyRequests), statusErr(http.StatusTooManyRequests)},
		batches:   [][]domain.InboundMessage{nil, nil, {msg("m1", request)}},
	}
	proc := &fakeProcessor{errs: []error{&usecase.Error{Code: usecase.ErrorRateLimited}}}
	p := newTestPoller(t, mb, newMemSeen(nil), proc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var delays []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 4 {
			cancel()
		}
		return ctx.Err()
	}

	require.NoError(t, p.Run(ctx))
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}, delays)
	require.Len(t, proc.inputs, 1)
	require.NoError(t, proc.ctxErr[0])
}

func TestRun_RealSleepIsCancellable(t *testing.T) {
	p := newTestPoller(t, &fakeMailbox{}, newMemSeen(nil), &fakeProcessor{})
	p.cfg.Interval = time.Hour
	p.backoff.Base = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop after cancel")
	}
}

func TestIdentity(t *testing.T) {
	require.Equal(t, "gm-1", Identity(domain.InboundMessage{ID: "gm-1", MessageID: "<x@y>"}))
	require.Equal(t, "<x@y>", Identity(domain.InboundMessage{MessageID: "<x@y>"}))

	a := domain.InboundMessage{From: "a@foo.com", Subject: request, Body: "hola"}
	b := a
	require.Equal(t, Identity(a), Identity(b))
	b.Body = "adiós"
	require.NotEqual(t, Identity(a), Identity(b))
	require.Len(t, Identity(a), 36)
}

func TestIsRateLimited(t *testing.T) {
	require.True(t, isRateLimited(&usecase.Error{Code: usecase.ErrorRateLimited}))
	require.False(t, isRateLimited(&usecase.Error{Code: usecase.ErrorDelivery}))
	require.True(t, isRateLimited(statusErr(http.StatusTooManyRequests)))
	require.False(t, isRateLimited(statusErr(http.StatusBadGateway)))
	require.False(t, isRateLimited(errors.New("plain")))
}
