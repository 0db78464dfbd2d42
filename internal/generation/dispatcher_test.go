package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/orchestrator/internal/model"
)

func newTestDispatcher(t *testing.T, descs ...Descriptor) *Dispatcher {
	t.Helper()
	registry, err := NewRegistry(descs...)
	require.NoError(t, err)
	return NewDispatcher(registry, nil)
}

var testRequest = model.GenerationRequest{
	Description: "lofi beat for studying",
	StylePreset: model.StylePresetDefault,
	RequesterID: "user-1",
}

func TestDispatch_PrimaryAccepts(t *testing.T) {
	primary := &fakeBackend{submitID: "p-1"}
	secondary := &fakeBackend{submitID: "s-1"}
	d := newTestDispatcher(t, descriptor("secondary", 10, secondary), descriptor("primary", 0, primary))

	handle, err := d.Dispatch(context.Background(), testRequest)
	require.NoError(t, err)

	assert.Equal(t, "primary", handle.BackendName)
	assert.Equal(t, "p-1", handle.ExternalID)
	assert.Equal(t, "user-1", handle.RequesterID)
	assert.False(t, handle.CreatedAt.IsZero())
	assert.Zero(t, secondary.submitCount(), "a job is owned by one backend only")
}

func TestDispatch_FailsOverOnSubmitError(t *testing.T) {
	primary := &fakeBackend{submitErr: errTransport}
	secondary := &fakeBackend{submitID: "s-1"}
	fallback := descriptor("secondary", 10, secondary)
	fallback.Degraded = true
	d := newTestDispatcher(t, descriptor("primary", 0, primary), fallback)

	handle, err := d.Dispatch(context.Background(), testRequest)
	require.NoError(t, err)

	assert.Equal(t, "secondary", handle.BackendName)
	assert.Equal(t, "s-1", handle.ExternalID)
	assert.True(t, handle.Degraded)
	assert.Equal(t, 1, primary.submitCount())
	assert.Equal(t, 1, secondary.submitCount())
}

func TestDispatch_SkipsUnhealthyBackend(t *testing.T) {
	primary := &fakeBackend{submitID: "p-1", unhealthy: true}
	secondary := &fakeBackend{submitID: "s-1"}
	d := newTestDispatcher(t, descriptor("primary", 0, primary), descriptor("secondary", 10, secondary))

	handle, err := d.Dispatch(context.Background(), testRequest)
	require.NoError(t, err)

	assert.Equal(t, "secondary", handle.BackendName)
	assert.Zero(t, primary.submitCount())
}

func TestDispatch_HealthCheckDisabled(t *testing.T) {
	primary := &fakeBackend{submitID: "p-1", unhealthy: true}
	desc := descriptor("primary", 0, primary)
	desc.CheckHealth = false
	d := newTestDispatcher(t, desc)

	handle, err := d.Dispatch(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "primary", handle.BackendName)
}

func TestDispatch_AllBackendsFail(t *testing.T) {
	quota := errors.New("quota exceeded")
	d := newTestDispatcher(t,
		descriptor("primary", 0, &fakeBackend{submitErr: errTransport}),
		descriptor("secondary", 10, &fakeBackend{submitErr: quota}),
		descriptor("tertiary", 20, &fakeBackend{unhealthy: true}),
	)

	_, err := d.Dispatch(context.Background(), testRequest)

	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	require.Len(t, derr.Attempts, 3)
	assert.Equal(t, "primary", derr.Attempts[0].Backend)
	assert.Equal(t, "secondary", derr.Attempts[1].Backend)
	assert.True(t, derr.Attempts[2].Skipped)

	assert.ErrorIs(t, err, errTransport)
	assert.ErrorIs(t, err, quota)
	assert.Contains(t, err.Error(), "tertiary: skipped (unhealthy)")
	assert.True(t, derr.Retryable())
}

func TestDispatch_EmptyJobIDIsAFailure(t *testing.T) {
	primary := &fakeBackend{}
	secondary := &fakeBackend{submitID: "s-1"}
	d := newTestDispatcher(t, descriptor("primary", 0, primary), descriptor("secondary", 10, secondary))

	handle, err := d.Dispatch(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "secondary", handle.BackendName)
}

func TestDispatch_NoBackends(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), testRequest)

	var derr *DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Empty(t, derr.Attempts)
	assert.Contains(t, err.Error(), ErrNoBackends.Error())
}

func TestDispatch_StopsWhenContextEnds(t *testing.T) {
	primary := &fakeBackend{submitID: "p-1"}
	d := newTestDispatcher(t, descriptor("primary", 0, primary))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, testRequest)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, primary.submitCount())
}

func TestDispatch_HandleIDsAreUnique(t *testing.T) {
	d := newTestDispatcher(t, descriptor("primary", 0, &fakeBackend{submitID: "p-1"}))

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		handle, err := d.Dispatch(context.Background(), testRequest)
		require.NoError(t, err)
		assert.False(t, seen[handle.ID], "duplicate id %s", handle.ID)
		seen[handle.ID] = true
	}
}
