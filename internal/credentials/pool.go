package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

const MaxKeys = 10

var (
	ErrNoCredentials        = errors.New("no_credentials_configured")
	ErrCredentialsExhausted = errors.New("credentials_exhausted")

	// ErrQuotaExceeded and ErrNotFound are returned by calls made through Do.
	ErrQuotaExceeded = errors.New("quota_exceeded")
	ErrNotFound      = errors.New("not_found")
)

// UnavailableError means no credential can serve the request right now.
type UnavailableError struct {
	Attempts    int
	Remediation string
	Err         error
}

func (e *UnavailableError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%v after %d attempts: %s", e.Err, e.Attempts, e.Remediation)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Remediation)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Pool is an ordered set of API keys with a rotating cursor.
type Pool struct {
	mu     sync.Mutex
	keys   []string
	index  int
	Logger *slog.Logger
}

// NewPool trims, drops blanks and duplicates, and keeps at most MaxKeys.
func NewPool(keys []string) *Pool {
	seen := map[string]bool{}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
		if len(out) == MaxKeys {
			break
		}
	}
	return &Pool{keys: out}
}

// ParseKeys splits a comma separated key list.
func ParseKeys(raw string) []string {
	return strings.Split(raw, ",")
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Next returns the key at the cursor.
func (p *Pool) Next() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 {
		return "", ErrNoCredentials
	}
	return p.keys[p.index], nil
}

// rotate advances past failed, unless another caller already did.
func (p *Pool) rotate(failed string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.keys) == 0 || p.keys[p.index] != failed {
		return
	}
	p.index = (p.index + 1) % len(p.keys)
}

// Do calls fn with the current key. A quota error rotates to the next key and
// retries, up to one attempt per key. ErrNotFound is returned as is.
func Do[T any](ctx context.Context, p *Pool, fn func(ctx context.Context, key string) (T, error)) (T, error) {
	var zero T
	size := p.Size()
	if size == 0 {
		return zero, &UnavailableError{Err: ErrNoCredentials, Remediation: "configure at least one API key in MEDIAQ_API_KEYS"}
	}
	for attempt := 0; attempt < size; attempt++ {
		key, err := p.Next()
		if err != nil {
			return zero, &UnavailableError{Err: err, Remediation: "configure at least one API key in MEDIAQ_API_KEYS"}
		}
		out, err := fn(ctx, key)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrQuotaExceeded):
			p.logger().Warn("credential quota exceeded, rotating", "attempt", attempt+1, "of", size)
			p.rotate(key)
		default:
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, &UnavailableError{
		Attempts:    size,
		Err:         ErrCredentialsExhausted,
		Remediation: "all API keys hit their quota; add keys or retry after the quota resets",
	}
}

func (p *Pool) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
