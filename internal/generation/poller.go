package generation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/observability"
)

// PollerConfig bounds one job's polling loop
type PollerConfig struct {
	Interval        time.Duration
	TickBudget      int
	TransientBudget int
}

// DefaultPollerConfig polls every 2s for up to 10 minutes and tolerates
// 3 consecutive transport failures.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:        2 * time.Second,
		TickBudget:      300,
		TransientBudget: 3,
	}
}

func (c PollerConfig) withDefaults() PollerConfig {
	def := DefaultPollerConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.TickBudget <= 0 {
		c.TickBudget = def.TickBudget
	}
	if c.TransientBudget <= 0 {
		c.TransientBudget = def.TransientBudget
	}
	return c
}

// Budget is the wall-clock time the tick budget corresponds to.
func (c PollerConfig) Budget() time.Duration {
	return c.Interval * time.Duration(c.TickBudget)
}

// TransitionFunc receives every state change of a job, in order, from the
// poller's goroutine.
type TransitionFunc func(model.Transition)

// Poller runs the bounded status loop for a single job. Ticks never overlap:
// tick N+1 is scheduled only after tick N's transitions have been delivered.
type Poller struct {
	handle       model.JobHandle
	desc         Descriptor
	cfg          PollerConfig
	lifecycle    Lifecycle
	results      *ResultNormalizer
	metrics      *observability.Metrics
	onTransition TransitionFunc
	now          func() time.Time

	// state is owned by the loop goroutine until done is closed
	state model.JobState

	cancelOnce sync.Once
	cancelCh   chan struct{}
	done       chan struct{}
}

// StartPolling launches the loop for handle, starting from state from (normally
// Dispatched). The loop stops on a terminal state, on Cancel, or when ctx ends;
// in the last case no transition is emitted so the job can be resumed later.
func StartPolling(
	ctx context.Context,
	handle model.JobHandle,
	from model.JobState,
	desc Descriptor,
	cfg PollerConfig,
	results *ResultNormalizer,
	metrics *observability.Metrics,
	onTransition TransitionFunc,
) *Poller {
	p := &Poller{
		handle:       handle,
		desc:         desc,
		cfg:          cfg.withDefaults(),
		results:      results,
		metrics:      metrics,
		onTransition: onTransition,
		now:          time.Now,
		state:        from,
		cancelCh:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

// Cancel stops the loop. Idempotent; the Cancelled transition is emitted by
// the loop itself, at the latest once an in-flight status check returns.
func (p *Poller) Cancel() {
	p.cancelOnce.Do(func() { close(p.cancelCh) })
}

// Done is closed when the loop has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// FinalState returns the state the loop ended in. Valid only after Done.
func (p *Poller) FinalState() model.JobState {
	<-p.done
	return p.state
}

func (p *Poller) cancelled() bool {
	select {
	case <-p.cancelCh:
		return true
	default:
		return false
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	if !p.state.IsActive() {
		return
	}

	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	ticks, consecutive := 0, 0
	for {
		select {
		case <-p.cancelCh:
			p.applyLocal(EventCancel, nil)
			return
		case <-ctx.Done():
			log.Printf("[Generation] poller for job %s stopped: %v", p.handle.ID, ctx.Err())
			return
		case <-timer.C:
		}

		if p.cancelled() {
			p.applyLocal(EventCancel, nil)
			return
		}

		ticks++
		raw, err := p.desc.Backend.PollStatus(ctx, p.handle)

		// an in-flight check is never interrupted, but its answer loses to a cancel
		if p.cancelled() {
			p.applyLocal(EventCancel, nil)
			return
		}

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutive++
			p.metrics.IncPollError(p.desc.Name)
			log.Printf("[Generation] poll #%d (job=%s backend=%s) — error %d/%d: %v",
				ticks, p.handle.ID, p.desc.Name, consecutive, p.cfg.TransientBudget, err)
			if consecutive >= p.cfg.TransientBudget {
				p.applyLocal(EventUnreachable, &TransientPollError{Backend: p.desc.Name, Consecutive: consecutive, Err: err})
				return
			}
		} else {
			consecutive = 0
			if p.applyStatus(ticks, raw) {
				return
			}
		}

		if ticks >= p.cfg.TickBudget {
			p.applyLocal(EventTimeout, &TimeoutExceeded{Ticks: ticks})
			return
		}
		timer.Reset(p.cfg.Interval)
	}
}

// pollOutcome is what one status answer means for the job
type pollOutcome struct {
	result model.PollResult
	path   []model.JobState
	tracks []model.Track
	cause  error
}

// interpret maps a raw status through the lifecycle without side effects.
// CanonicalState is where the job ends up; it equals the current state when
// the answer changes nothing.
func (p *Poller) interpret(raw model.RawStatus) (pollOutcome, error) {
	out := pollOutcome{result: model.PollResult{
		Raw:            raw,
		Signal:         p.desc.MapStatus(raw.Tag),
		CanonicalState: p.state,
	}}

	event, err := EventForSignal(out.result.Signal)
	if err != nil {
		return out, err
	}

	switch event {
	case EventSucceeded:
		out.tracks, out.cause = p.results.Normalize(p.desc.Name, raw.Payload)
		if out.cause != nil {
			event = EventFailed
		}
	case EventFailed:
		out.cause = &BackendFailure{Backend: p.desc.Name, Reason: raw.Reason}
	}

	out.path = p.lifecycle.Path(p.state, event)
	if n := len(out.path); n > 0 {
		out.result.CanonicalState = out.path[n-1]
	}
	return out, nil
}

// applyStatus applies one status answer and reports whether the job is now
// terminal.
func (p *Poller) applyStatus(tick int, raw model.RawStatus) bool {
	out, err := p.interpret(raw)
	if err != nil {
		log.Printf("[Generation] job %s: %v, ignoring status %q", p.handle.ID, err, raw.Tag)
		return false
	}

	res := out.result
	log.Printf("[Generation] poll #%d (job=%s backend=%s) — status: %s (%s) -> %s",
		tick, p.handle.ID, p.desc.Name, res.Raw.Tag, res.Signal, res.CanonicalState)

	if len(out.path) == 0 {
		if res.Signal == model.SignalNeedsVerification && p.state == model.JobStateProcessing {
			log.Printf("[Generation] job %s: verification requested while processing, continuing to poll", p.handle.ID)
		}
		return false
	}

	for _, to := range out.path {
		t := model.Transition{
			JobID:   p.handle.ID,
			From:    p.state,
			To:      to,
			At:      p.now(),
			Payload: res.Raw.Payload,
		}
		switch to {
		case model.JobStateCompleted:
			t.Tracks = out.tracks
		case model.JobStateFailed:
			t.Err = out.cause
		}
		p.emit(t)
	}
	return p.state.IsTerminal()
}

func (p *Poller) applyLocal(event Event, cause error) {
	to, ok := p.lifecycle.Next(p.state, event)
	if !ok {
		return
	}
	p.emit(model.Transition{
		JobID: p.handle.ID,
		From:  p.state,
		To:    to,
		At:    p.now(),
		Err:   cause,
	})
}

func (p *Poller) emit(t model.Transition) {
	p.state = t.To
	p.metrics.IncTransition(string(t.To), p.desc.Name)
	if p.onTransition != nil {
		p.onTransition(t)
	}
}
