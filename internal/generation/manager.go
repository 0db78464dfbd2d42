package generation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/makeasinger/orchestrator/internal/model"
	"github.com/makeasinger/orchestrator/internal/observability"
)

// TransitionHook observes every applied transition together with the job's
// snapshot after the transition. Hooks run on the job's poller goroutine and
// must not block for long.
type TransitionHook func(snap model.Snapshot, t model.Transition)

// ManagerConfig configures a Manager
type ManagerConfig struct {
	Poller        PollerConfig
	MaxTextLength int
	// Retention is how long terminal jobs stay in memory for display.
	Retention time.Duration
}

// Manager owns every live job: it maps job ids to their poller and view, and
// is the cancellation controller.
type Manager struct {
	normalizer *RequestNormalizer
	dispatcher *Dispatcher
	results    *ResultNormalizer
	registry   *Registry
	notifier   CancelNotifier
	metrics    *observability.Metrics
	cfg        ManagerConfig

	ctx  context.Context
	stop context.CancelFunc

	mu    sync.RWMutex
	jobs  map[string]*job
	hooks []TransitionHook

	now func() time.Time
}

type job struct {
	mu              sync.Mutex
	handle          model.JobHandle
	state           model.JobState
	lastPayload     []byte
	tracks          []model.Track
	err             *model.JobError
	updatedAt       time.Time
	cancelRequested bool
	poller          *Poller
}

// NewManager creates a manager. notifier may be nil, in which case a
// DirectNotifier is used.
func NewManager(registry *Registry, notifier CancelNotifier, metrics *observability.Metrics, cfg ManagerConfig) *Manager {
	cfg.Poller = cfg.Poller.withDefaults()
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if notifier == nil {
		notifier = NewDirectNotifier(registry, metrics, 0)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		normalizer: NewRequestNormalizer(cfg.MaxTextLength),
		dispatcher: NewDispatcher(registry, metrics),
		results:    NewResultNormalizer(registry),
		registry:   registry,
		notifier:   notifier,
		metrics:    metrics,
		cfg:        cfg,
		ctx:        ctx,
		stop:       stop,
		jobs:       make(map[string]*job),
		now:        time.Now,
	}
}

// OnTransition registers a hook. Register hooks before submitting jobs.
func (m *Manager) OnTransition(hook TransitionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Submit normalizes raw, dispatches it and starts polling. Errors are
// *ValidationError (nothing was sent) or *DispatchError.
func (m *Manager) Submit(ctx context.Context, raw RawRequest) (model.JobHandle, error) {
	req, err := m.normalizer.Normalize(raw)
	if err != nil {
		return model.JobHandle{}, err
	}

	handle, err := m.dispatcher.Dispatch(ctx, req)
	if err != nil {
		return model.JobHandle{}, err
	}

	desc, _ := m.registry.Lookup(handle.BackendName)
	j := &job{handle: handle, state: model.JobStateCreated}

	m.record(j, model.Transition{
		JobID: handle.ID,
		From:  model.JobStateCreated,
		To:    model.JobStateDispatched,
		At:    m.now(),
	})
	m.metrics.IncTransition(string(model.JobStateDispatched), desc.Name)
	log.Printf("[Generation] job %s dispatched to %s (external id %s)", handle.ID, handle.BackendName, handle.ExternalID)

	m.start(j, desc)
	return handle, nil
}

// Resume restarts polling for a job restored from a snapshot, with fresh
// budgets. Terminal snapshots are registered for display only.
func (m *Manager) Resume(snap model.Snapshot) error {
	m.mu.RLock()
	_, live := m.jobs[snap.Handle.ID]
	m.mu.RUnlock()
	if live {
		return nil
	}

	j := &job{
		handle:      snap.Handle,
		state:       snap.State,
		lastPayload: snap.LastPayload,
		tracks:      snap.Tracks,
		err:         snap.Error,
		updatedAt:   snap.UpdatedAt,
	}

	if snap.State.IsTerminal() {
		m.mu.Lock()
		m.jobs[j.handle.ID] = j
		m.mu.Unlock()
		return nil
	}
	if !snap.State.IsActive() {
		return fmt.Errorf("job %s: cannot resume from state %s", snap.Handle.ID, snap.State)
	}

	desc, ok := m.registry.Lookup(snap.Handle.BackendName)
	if !ok {
		return fmt.Errorf("job %s: backend %q is not registered", snap.Handle.ID, snap.Handle.BackendName)
	}

	log.Printf("[Generation] resuming job %s in state %s on %s", snap.Handle.ID, snap.State, desc.Name)
	m.start(j, desc)
	return nil
}

func (m *Manager) start(j *job, desc Descriptor) {
	j.mu.Lock()
	from := j.state
	j.poller = StartPolling(m.ctx, j.handle, from, desc, m.cfg.Poller, m.results, m.metrics, func(t model.Transition) {
		m.record(j, t)
	})
	j.mu.Unlock()

	m.mu.Lock()
	m.pruneLocked()
	m.jobs[j.handle.ID] = j
	m.mu.Unlock()
}

// Cancel stops the job's poller and notifies its backend, best effort.
// Idempotent: unknown jobs return ErrJobNotFound, terminal jobs are a no-op.
// It waits for the Cancelled transition until ctx ends.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	m.mu.RLock()
	j, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return ErrJobNotFound
	}

	j.mu.Lock()
	if j.state.IsTerminal() || j.cancelRequested || j.poller == nil {
		j.mu.Unlock()
		return nil
	}
	j.cancelRequested = true
	poller := j.poller
	j.mu.Unlock()

	poller.Cancel()

	select {
	case <-poller.Done():
	case <-ctx.Done():
	}
	return nil
}

// Snapshot returns the job's current serializable view.
func (m *Manager) Snapshot(jobID string) (model.Snapshot, bool) {
	m.mu.RLock()
	j, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return model.Snapshot{}, false
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked(), true
}

// Progress projects the job's state at now.
func (m *Manager) Progress(jobID string, now time.Time) (Progress, bool) {
	snap, ok := m.Snapshot(jobID)
	if !ok {
		return Progress{}, false
	}
	return m.Project(snap, now), true
}

// Project applies the progress projector to a snapshot using this manager's budget.
func (m *Manager) Project(snap model.Snapshot, now time.Time) Progress {
	return Project(snap.State, now.Sub(snap.Handle.CreatedAt), m.cfg.Poller.Budget())
}

// Tracks returns the result of a completed job.
func (m *Manager) Tracks(jobID string) ([]model.Track, error) {
	snap, ok := m.Snapshot(jobID)
	if !ok {
		return nil, ErrJobNotFound
	}
	if snap.State != model.JobStateCompleted {
		return nil, ErrJobNotComplete
	}
	return snap.Tracks, nil
}

// Done returns a channel closed when the job's poller exits, or nil for
// unknown or inert jobs.
func (m *Manager) Done(jobID string) <-chan struct{} {
	m.mu.RLock()
	j, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.poller == nil {
		return nil
	}
	return j.poller.Done()
}

// Shutdown stops every poller without emitting transitions, leaving active
// jobs resumable from their last snapshot.
func (m *Manager) Shutdown() {
	m.stop()

	m.mu.RLock()
	pollers := make([]*Poller, 0, len(m.jobs))
	for _, j := range m.jobs {
		j.mu.Lock()
		if j.poller != nil {
			pollers = append(pollers, j.poller)
		}
		j.mu.Unlock()
	}
	m.mu.RUnlock()

	for _, p := range pollers {
		<-p.Done()
	}
}

func (m *Manager) record(j *job, t model.Transition) {
	j.mu.Lock()
	j.state = t.To
	j.updatedAt = t.At
	if len(t.Payload) > 0 {
		j.lastPayload = t.Payload
	}
	if len(t.Tracks) > 0 {
		j.tracks = t.Tracks
	}
	if t.Err != nil {
		j.err = ToJobError(t.Err)
	}
	snap := j.snapshotLocked()
	j.mu.Unlock()

	if t.To.IsTerminal() {
		log.Printf("[Generation] job %s ended: %s", t.JobID, t.To)
	}
	if t.To == model.JobStateCancelled {
		m.notifier.NotifyCancel(snap.Handle)
	}

	m.mu.RLock()
	hooks := m.hooks
	m.mu.RUnlock()
	for _, hook := range hooks {
		hook(snap, t)
	}
}

// pruneLocked drops terminal jobs past retention. Caller holds m.mu.
func (m *Manager) pruneLocked() {
	cutoff := m.now().Add(-m.cfg.Retention)
	for id, j := range m.jobs {
		j.mu.Lock()
		expired := j.state.IsTerminal() && j.updatedAt.Before(cutoff)
		j.mu.Unlock()
		if expired {
			delete(m.jobs, id)
		}
	}
}

func (j *job) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		Handle:      j.handle,
		State:       j.state,
		LastPayload: j.lastPayload,
		Error:       j.err,
		UpdatedAt:   j.updatedAt,
	}
	if len(j.tracks) > 0 {
		snap.Tracks = append([]model.Track(nil), j.tracks...)
	}
	return snap
}
