// Package cache defines the response cache contract and request fingerprinting.
// Backends live in the memory, sqlite and redis subpackages.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pario-ai/relay/pkg/models"
)

// Store maps request fingerprints to cached responses. Implementations must
// be safe for concurrent use and must never return an entry past its TTL.
type Store interface {
	// Get returns the cached response for key. A miss is (zero, false, nil).
	Get(ctx context.Context, key string) (models.Response, bool, error)
	// Put stores resp under key for ttl, overwriting any existing entry.
	Put(ctx context.Context, key string, resp models.Response, ttl time.Duration) error
	// Stats returns cache performance counters.
	Stats(ctx context.Context) (models.CacheStats, error)
	// Clear removes entries. If expiredOnly is true, only expired entries are removed.
	Clear(ctx context.Context, expiredOnly bool) error
	// Close releases resources.
	Close() error
}

type fingerprintInput struct {
	Model  string         `json:"m"`
	Prompt string         `json:"p"`
	Params map[string]any `json:"a,omitempty"`
}

// Fingerprint computes the cache key for a request against one model.
// Line endings in the prompt are normalized to LF. Params are encoded with
// sorted keys at every level and numbers compare by value, so 1, 1.0 and
// json.Number("1e0") collide while "1" does not.
func Fingerprint(model, prompt string, params models.Params) (string, error) {
	canon, err := canonical(map[string]any(params))
	if err != nil {
		return "", fmt.Errorf("fingerprint params: %w", err)
	}
	in := fingerprintInput{Model: model, Prompt: NormalizePrompt(prompt)}
	if m, _ := canon.(map[string]any); len(m) > 0 {
		in.Params = m
	}
	data, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("fingerprint params: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NormalizePrompt returns the prompt form used for fingerprinting.
// Whitespace is significant; only CRLF and lone CR become LF.
func NormalizePrompt(prompt string) string {
	prompt = strings.ReplaceAll(prompt, "\r\n", "\n")
	return strings.ReplaceAll(prompt, "\r", "\n")
}

// canonical rewrites numbers to a single representation: integral values
// within int64 range become int64, everything else float64.
func canonical(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if x == nil {
			return nil, nil
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			c, err := canonical(e)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case models.Params:
		return canonical(map[string]any(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			c, err := canonical(e)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", x.String(), err)
		}
		return number(f), nil
	case float64:
		return number(x), nil
	case float32:
		return number(float64(x)), nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return unsigned(uint64(x)), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return unsigned(x), nil
	default:
		return v, nil
	}
}

func number(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}

func unsigned(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return float64(u)
}
