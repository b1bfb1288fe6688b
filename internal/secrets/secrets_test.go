package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmsfid11-commits/trading-bot-sub000/config"
)

func TestCacheOnlyStore(t *testing.T) {
	s, err := New(config.Vault{})
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	ctx := context.Background()

	_, err = s.Get(ctx, "t-unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	creds := Credentials{AccessKey: "ak", SecretKey: "sk"}
	require.NoError(t, s.Put(ctx, "t-alpha", creds))

	got, err := s.Get(ctx, "t-alpha")
	require.NoError(t, err)
	assert.Equal(t, creds, *got)

	require.NoError(t, s.Delete(ctx, "t-alpha"))
	_, err = s.Get(ctx, "t-alpha")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Health(ctx), "cache-only store is always healthy")
}

func TestPathLayout(t *testing.T) {
	s, err := New(config.Vault{MountPath: "kv"})
	require.NoError(t, err)

	assert.Equal(t, "kv/data/tenants/t-1", s.dataPath("t-1"))
	assert.Equal(t, "kv/metadata/tenants/t-1", s.metadataPath("t-1"))

	s, err = New(config.Vault{})
	require.NoError(t, err)
	assert.Equal(t, "secret/data/tenants/t-1", s.dataPath("t-1"))
}
