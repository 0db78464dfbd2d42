package generation

import (
	"context"
	"fmt"
	"sort"

	"github.com/makeasinger/orchestrator/internal/model"
)

// Backend is an upstream automation service that can run a generation job
type Backend interface {
	// Submit sends the request and returns the backend's opaque job identifier.
	Submit(ctx context.Context, req model.GenerationRequest) (string, error)
	// PollStatus asks for the current status of a previously submitted job.
	// Returned errors are treated as transient transport failures.
	PollStatus(ctx context.Context, handle model.JobHandle) (model.RawStatus, error)
	// Cancel notifies the backend that the job is no longer wanted.
	Cancel(ctx context.Context, handle model.JobHandle) error
	// HealthCheck reports whether the backend should be offered new jobs.
	HealthCheck(ctx context.Context) bool
}

// StatusMapper translates a backend's raw status tag to a canonical signal
type StatusMapper func(tag string) model.Signal

// TrackMapper converts a backend's success payload into tracks
type TrackMapper func(payload []byte) ([]model.Track, error)

// Descriptor is one registry entry
type Descriptor struct {
	Name     string
	Priority int
	Backend  Backend
	// MapStatus is required; it parametrizes the lifecycle per backend.
	MapStatus StatusMapper
	// MapTracks is required; used by the result normalizer.
	MapTracks TrackMapper
	// CheckHealth consults HealthCheck before submitting.
	CheckHealth bool
	// Degraded marks a fallback that accepts jobs with reduced capabilities.
	Degraded bool
}

// Registry is an ordered, read-only list of backends
type Registry struct {
	entries []Descriptor
	byName  map[string]Descriptor
}

// NewRegistry validates descriptors and orders them by ascending priority.
// Ties keep their registration order.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descriptors))}

	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("backend descriptor without name")
		}
		if d.Backend == nil || d.MapStatus == nil || d.MapTracks == nil {
			return nil, fmt.Errorf("backend %q: backend, status mapper and track mapper are required", d.Name)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("backend %q registered twice", d.Name)
		}
		r.byName[d.Name] = d
		r.entries = append(r.entries, d)
	}

	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].Priority < r.entries[j].Priority
	})
	return r, nil
}

// Ordered returns a copy of the descriptors in dispatch order.
func (r *Registry) Ordered() []Descriptor {
	out := make([]Descriptor, len(r.entries))
	copy(out, r.entries)
	return out
}

// Lookup finds a descriptor by backend name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	return len(r.entries)
}
