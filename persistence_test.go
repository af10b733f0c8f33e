package apiclient

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys() StorageKeys {
	return DefaultConfig().Persistence.StorageKeys
}

func TestFilePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	p := NewFilePersister(path, testKeys())
	ctx := context.Background()

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	pair := Credentials{AccessToken: "access", RefreshToken: "refresh", ExpiresAt: 1_700_000_300}
	require.NoError(t, p.Save(ctx, pair))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"accessToken":"access","refreshToken":"refresh","tokenExpiry":1700000300}`, string(data))

	loaded, err = p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, &pair, loaded)

	require.NoError(t, p.Clear(ctx))
	require.NoError(t, p.Clear(ctx))
	loaded, err = p.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestFilePersisterPrefixedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	keys := testKeys()
	keys.Prefix = "resume."
	p := NewFilePersister(path, keys)

	require.NoError(t, p.Save(context.Background(), Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: 1}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"resume.accessToken"`)
}

func TestFilePersisterCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFilePersister(path, testKeys()).Load(context.Background())
	assert.Error(t, err)
}

func TestRedisPersisterRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	keys := testKeys()
	keys.Prefix = "session:"
	p := NewRedisPersister(client, keys)
	defer p.Close()
	ctx := context.Background()

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	pair := Credentials{AccessToken: "access", RefreshToken: "refresh", ExpiresAt: 1_700_000_300}
	require.NoError(t, p.Save(ctx, pair))

	got, err := mr.Get("session:accessToken")
	require.NoError(t, err)
	assert.Equal(t, "access", got)
	got, err = mr.Get("session:tokenExpiry")
	require.NoError(t, err)
	assert.Equal(t, "1700000300", got)

	loaded, err = p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, &pair, loaded)

	require.NoError(t, p.Clear(ctx))
	assert.False(t, mr.Exists("session:accessToken"))
}

func TestNewPersister(t *testing.T) {
	cfg := DefaultConfig().Persistence
	cfg.FilePath = filepath.Join(t.TempDir(), "c.json")

	p, err := NewPersister(cfg)
	require.NoError(t, err)
	assert.IsType(t, &FilePersister{}, p)

	mr := miniredis.RunT(t)
	cfg.Backend = "redis"
	cfg.RedisAddr = mr.Addr()
	p, err = NewPersister(cfg)
	require.NoError(t, err)
	assert.IsType(t, &RedisPersister{}, p)
	require.NoError(t, p.(*RedisPersister).Close())

	cfg.Backend = "etcd"
	_, err = NewPersister(cfg)
	assert.Error(t, err)
}
