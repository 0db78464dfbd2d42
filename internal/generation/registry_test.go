package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OrdersByPriority(t *testing.T) {
	r, err := NewRegistry(
		descriptor("c", 20, &fakeBackend{}),
		descriptor("a", 0, &fakeBackend{}),
		descriptor("b1", 10, &fakeBackend{}),
		descriptor("b2", 10, &fakeBackend{}),
	)
	require.NoError(t, err)

	var names []string
	for _, d := range r.Ordered() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, names)
	assert.Equal(t, 4, r.Len())

	d, ok := r.Lookup("b2")
	require.True(t, ok)
	assert.Equal(t, 10, d.Priority)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistry_OrderedReturnsCopy(t *testing.T) {
	r, err := NewRegistry(descriptor("a", 0, &fakeBackend{}), descriptor("b", 1, &fakeBackend{}))
	require.NoError(t, err)

	ordered := r.Ordered()
	ordered[0], ordered[1] = ordered[1], ordered[0]

	assert.Equal(t, "a", r.Ordered()[0].Name)
}

func TestRegistry_RejectsInvalidDescriptors(t *testing.T) {
	noMapper := descriptor("a", 0, &fakeBackend{})
	noMapper.MapStatus = nil

	tests := map[string][]Descriptor{
		"missing name":   {descriptor("", 0, &fakeBackend{})},
		"missing mapper": {noMapper},
		"duplicate name": {descriptor("a", 0, &fakeBackend{}), descriptor("a", 1, &fakeBackend{})},
	}
	for name, descs := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewRegistry(descs...)
			assert.Error(t, err)
		})
	}
}
