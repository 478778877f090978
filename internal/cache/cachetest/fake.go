// internal/cache/cachetest/fake.go
package cachetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Fake is an in-memory redis.Cmdable covering the string and hash commands
// the service uses. Calling any other command panics.
type Fake struct {
	redis.Cmdable

	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	hashes map[string]map[string]string
	err    error
}

var _ redis.Cmdable = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		values: make(map[string]string),
		ttls:   make(map[string]time.Duration),
		hashes: make(map[string]map[string]string),
	}
}

// Fail makes every command return err until called with nil.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// KeyTTL returns the expiration last set on key.
func (f *Fake) KeyTTL(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[key]
}

func str(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func (f *Fake) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *Fake) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = str(value)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *Fake) HGet(_ context.Context, key, field string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.hashes[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

// HSet accepts field/value pairs only.
func (f *Fake) HSet(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	if len(values)%2 != 0 {
		return redis.NewIntResult(0, fmt.Errorf("cachetest: odd HSET arguments"))
	}
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	var added int64
	for i := 0; i < len(values); i += 2 {
		field := str(values[i])
		if _, exists := h[field]; !exists {
			added++
		}
		h[field] = str(values[i+1])
	}
	return redis.NewIntResult(added, nil)
}

func (f *Fake) HDel(_ context.Context, key string, fields ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, field := range fields {
		if _, ok := f.hashes[key][field]; ok {
			delete(f.hashes[key], field)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}
