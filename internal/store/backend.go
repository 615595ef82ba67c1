package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Backend persists whole named documents.
type Backend interface {
	// Load returns the stored document and whether one exists.
	Load(ctx context.Context, name string) ([]byte, bool, error)
	// Save overwrites the stored document.
	Save(ctx context.Context, name string, data []byte) error
}

var ErrInvalidName = errors.New("invalid store name")

func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// FileBackend keeps one <name>.json file per document under Dir.
type FileBackend struct {
	Dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileBackend{Dir: dir}, nil
}

func (b *FileBackend) path(name string) string {
	return filepath.Join(b.Dir, name+".json")
}

func (b *FileBackend) Load(_ context.Context, name string) ([]byte, bool, error) {
	if err := validateName(name); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(b.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Save writes to a temp file in the same directory and renames it over the
// previous document, so readers never see a partial write.
func (b *FileBackend) Save(_ context.Context, name string, data []byte) error {
	if err := validateName(name); err != nil {
		return err
	}
	tmp := filepath.Join(b.Dir, "."+name+"."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.path(name)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// RedisBackend stores each document as a plain string key without TTL.
type RedisBackend struct {
	rdb *redis.Client
}

func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func (b *RedisBackend) Load(ctx context.Context, name string) ([]byte, bool, error) {
	data, err := b.rdb.Get(ctx, redisKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *RedisBackend) Save(ctx context.Context, name string, data []byte) error {
	return b.rdb.Set(ctx, redisKey(name), data, 0).Err()
}

func redisKey(name string) string { return "store:" + name }
