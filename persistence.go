package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// CredentialPersister stores the credential pair durably between runs.
type CredentialPersister interface {
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds Credentials) error
	Clear(ctx context.Context) error
}

// NewPersister builds the backend named by cfg.Backend.
func NewPersister(cfg PersistenceConfig) (CredentialPersister, error) {
	switch cfg.Backend {
	case "file":
		return NewFilePersister(cfg.FilePath, cfg.StorageKeys), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisPersister(client, cfg.StorageKeys), nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", cfg.Backend)
	}
}

func (k StorageKeys) names() (access, refresh, expires string) {
	return k.Prefix + k.AccessToken, k.Prefix + k.RefreshToken, k.Prefix + k.ExpiresAt
}

// FilePersister keeps the pair in a JSON object whose field names are the
// configured storage keys. The file is written with mode 0600.
type FilePersister struct {
	path string
	keys StorageKeys
}

// NewFilePersister creates a persister writing to path.
func NewFilePersister(path string, keys StorageKeys) *FilePersister {
	return &FilePersister{path: path, keys: keys}
}

func (p *FilePersister) Load(_ context.Context) (*Credentials, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var record map[string]json.RawMessage
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials file: %w", err)
	}

	accessKey, refreshKey, expiresKey := p.keys.names()
	var creds Credentials
	if raw, ok := record[accessKey]; ok {
		if err := json.Unmarshal(raw, &creds.AccessToken); err != nil {
			return nil, fmt.Errorf("field %s: %w", accessKey, err)
		}
	}
	if raw, ok := record[refreshKey]; ok {
		if err := json.Unmarshal(raw, &creds.RefreshToken); err != nil {
			return nil, fmt.Errorf("field %s: %w", refreshKey, err)
		}
	}
	if raw, ok := record[expiresKey]; ok {
		if err := json.Unmarshal(raw, &creds.ExpiresAt); err != nil {
			return nil, fmt.Errorf("field %s: %w", expiresKey, err)
		}
	}
	if creds.AccessToken == "" {
		return nil, nil
	}
	return &creds, nil
}

func (p *FilePersister) Save(_ context.Context, creds Credentials) error {
	accessKey, refreshKey, expiresKey := p.keys.names()
	data, err := json.Marshal(map[string]interface{}{
		accessKey:  creds.AccessToken,
		refreshKey: creds.RefreshToken,
		expiresKey: creds.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.path)
}

func (p *FilePersister) Clear(_ context.Context) error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RedisPersister keeps each field of the pair under its own storage key.
type RedisPersister struct {
	client *redis.Client
	keys   StorageKeys
}

// NewRedisPersister creates a persister on client.
func NewRedisPersister(client *redis.Client, keys StorageKeys) *RedisPersister {
	return &RedisPersister{client: client, keys: keys}
}

func (p *RedisPersister) Load(ctx context.Context) (*Credentials, error) {
	accessKey, refreshKey, expiresKey := p.keys.names()
	values, err := p.client.MGet(ctx, accessKey, refreshKey, expiresKey).Result()
	if err != nil {
		return nil, err
	}

	access, _ := values[0].(string)
	if access == "" {
		return nil, nil
	}
	refresh, _ := values[1].(string)
	expires, _ := values[2].(string)
	expiresAt, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", expiresKey, err)
	}

	return &Credentials{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt}, nil
}

func (p *RedisPersister) Save(ctx context.Context, creds Credentials) error {
	accessKey, refreshKey, expiresKey := p.keys.names()
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, accessKey, creds.AccessToken, 0)
		pipe.Set(ctx, refreshKey, creds.RefreshToken, 0)
		pipe.Set(ctx, expiresKey, strconv.FormatInt(creds.ExpiresAt, 10), 0)
		return nil
	})
	return err
}

func (p *RedisPersister) Clear(ctx context.Context) error {
	accessKey, refreshKey, expiresKey := p.keys.names()
	return p.client.Del(ctx, accessKey, refreshKey, expiresKey).Err()
}

// Close releases the underlying connection pool.
func (p *RedisPersister) Close() error {
	return p.client.Close()
}
