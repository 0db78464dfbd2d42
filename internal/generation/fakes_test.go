package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/makeasinger/orchestrator/internal/model"
)

var errTransport = errors.New("connection refused")

const twoTrackPayload = `{"status":"succeeded","tracks":[
	{"id":"t1","title":"Morning Light","duration":"2:45","url":"https://cdn.example/t1.mp3","metadata":{"style":"acoustic"}},
	{"id":"t2","title":"Morning Light (alt)","duration":171,"download_url":"https://cdn.example/t2.mp3"}
]}`

type pollStep struct {
	tag    string
	reason string
	body   string
	err    error
}

func status(tag string) pollStep { return pollStep{tag: tag} }

func succeeded(body string) pollStep { return pollStep{tag: "succeeded", body: body} }

func transportErr() pollStep { return pollStep{err: errTransport} }

// fakeBackend plays a scripted sequence of statuses; the last step repeats.
type fakeBackend struct {
	mu        sync.Mutex
	submitID  string
	submitErr error
	unhealthy bool
	steps     []pollStep
	cancelErr []error

	submits int
	polls   int
	cancels int

	// when set, PollStatus signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (b *fakeBackend) Submit(_ context.Context, _ model.GenerationRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits++
	return b.submitID, b.submitErr
}

func (b *fakeBackend) PollStatus(_ context.Context, _ model.JobHandle) (model.RawStatus, error) {
	b.mu.Lock()
	idx := b.polls
	b.polls++
	var step pollStep
	if len(b.steps) > 0 {
		step = b.steps[min(idx, len(b.steps)-1)]
	} else {
		step = status("processing")
	}
	entered, release := b.entered, b.release
	b.mu.Unlock()

	if release != nil {
		entered <- struct{}{}
		<-release
	}

	if step.err != nil {
		return model.RawStatus{}, step.err
	}
	return model.RawStatus{Tag: step.tag, Reason: step.reason, Payload: []byte(step.body)}, nil
}

func (b *fakeBackend) Cancel(_ context.Context, _ model.JobHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.cancels
	b.cancels++
	if idx < len(b.cancelErr) {
		return b.cancelErr[idx]
	}
	return nil
}

func (b *fakeBackend) HealthCheck(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.unhealthy
}

func (b *fakeBackend) pollCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

func (b *fakeBackend) submitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submits
}

func (b *fakeBackend) cancelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancels
}

func identityStatus(tag string) model.Signal { return model.Signal(tag) }

var testTracks = JSONTrackMapper("tracks", TrackFields{
	ID:       []string{"id"},
	Title:    []string{"title"},
	Duration: []string{"duration"},
	Audio:    []string{"url", "download_url"},
	Style:    map[string]string{"style": "metadata.style"},
})

func descriptor(name string, priority int, b *fakeBackend) Descriptor {
	return Descriptor{
		Name:        name,
		Priority:    priority,
		Backend:     b,
		MapStatus:   identityStatus,
		MapTracks:   testTracks,
		CheckHealth: true,
	}
}

func fastPoller(tickBudget int) PollerConfig {
	return PollerConfig{Interval: time.Millisecond, TickBudget: tickBudget, TransientBudget: 3}
}

// recorder collects transitions delivered by a poller or manager
type recorder struct {
	mu          sync.Mutex
	transitions []model.Transition
}

func (r *recorder) record(t model.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) states() []model.JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.JobState, 0, len(r.transitions))
	for _, t := range r.transitions {
		out = append(out, t.To)
	}
	return out
}

func (r *recorder) last() model.Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitions[len(r.transitions)-1]
}

func (r *recorder) waitFor(t *testing.T, state model.JobState) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, s := range r.states() {
			if s == state {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond, "state %s never reached", state)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

// recordingNotifier counts cancel notifications
type recordingNotifier struct {
	mu      sync.Mutex
	handles []model.JobHandle
}

func (n *recordingNotifier) NotifyCancel(handle model.JobHandle) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handles = append(n.handles, handle)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.handles)
}
