package integration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name string
}

func (s *stubAdapter) Name() string { return s.name }

func (*stubAdapter) IsAvailable(_ context.Context, _ uuid.UUID) bool { return true }

func (*stubAdapter) SyncDaily(_ context.Context, _ uuid.UUID, _ string) (Result, error) {
	return Result{Success: true}, nil
}

func TestRegistryRegister(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()

	require.NoError(t, reg.Register(&stubAdapter{name: "instagram"}))
	require.NoError(t, reg.Register(&stubAdapter{name: "facebook"}))
	require.NoError(t, reg.Register(&stubAdapter{name: "pos"}))

	assert.Equal(t, 3, reg.Len())
	assert.NotNil(t, reg.Get("facebook"))
	assert.Nil(t, reg.Get("tiktok"))
}

func TestRegistryRegisterDuplicate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAdapter{name: "pos"}))

	err := reg.Register(&stubAdapter{name: "pos"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryRegisterInvalid(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(&stubAdapter{name: ""}))
}

func TestRegistryAdaptersOrder(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	names := []string{"instagram", "facebook", "pos"}
	for _, n := range names {
		require.NoError(t, reg.Register(&stubAdapter{name: n}))
	}

	adapters := reg.Adapters()
	require.Len(t, adapters, 3)
	for i, a := range adapters {
		assert.Equal(t, names[i], a.Name())
	}
}
