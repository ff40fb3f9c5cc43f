package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: key not found")

// Service is a key/value store. Strings and byte slices are stored as is,
// anything else as JSON, so every backend round-trips values the same way.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	MGet(ctx context.Context, keys ...string) (map[string]string, error)
	Close() error
}

// MGetAs fetches keys in one round trip and decodes each value into T.
// Missing keys and values that do not decode are left out.
func MGetAs[T any](ctx context.Context, c Service, keys ...string) (map[string]T, error) {
	raw, err := c.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(raw))
	for k, v := range raw {
		var t T
		if decode([]byte(v), &t) == nil {
			out[k] = t
		}
	}
	return out, nil
}

func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	}
	return json.Marshal(value)
}

func decode(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
	case *[]byte:
		*d = append((*d)[:0], data...)
	default:
		return json.Unmarshal(data, dest)
	}
	return nil
}
