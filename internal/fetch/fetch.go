// Package fetch defines the source adapter contract and the ordered
// fallback chain used to resolve a data type to the first provider that can
// serve it. Every adapter call path is: rate limiter admit -> circuit
// breaker admit -> network call with explicit timeout -> breaker accounting.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/marketdata/internal/domain"
)

// ErrAdapterDisabled is returned when an adapter has no credentials and is
// skipped by the fallback chain without being tried.
var ErrAdapterDisabled = errors.New("adapter is disabled")

// ErrUnsupportedDataType is returned by a provider asked for a data type it
// does not serve. Chains are configured so this should not happen in normal
// operation.
var ErrUnsupportedDataType = errors.New("unsupported data type")

// Request identifies one fetch operation.
type Request struct {
	DataType domain.DataType
	Key      string            // Primary identifier: symbol, series id, currency pair
	Params   map[string]string // Provider-specific extras (date ranges, etc.)
}

// Param returns a request parameter or a default.
func (r Request) Param(name, def string) string {
	if v, ok := r.Params[name]; ok && v != "" {
		return v
	}
	return def
}

// Result is the outcome of a provider fetch. Empty means the upstream
// answered authoritatively that no data exists — distinct from an error.
type Result struct {
	Data  json.RawMessage
	Empty bool
}

// Provider is implemented by each upstream client.
type Provider interface {
	// Name is the stable adapter name used in chains and result envelopes.
	Name() string

	// Enabled reports whether required credentials are present.
	Enabled() bool

	// Fetch performs one network call. Implementations must honor ctx.
	Fetch(ctx context.Context, req Request) (Result, error)
}

// ExhaustedError reports that every adapter in a chain failed or was
// disabled. It carries the per-adapter errors as log context; it is
// surfaced to callers as a failed response, never a panic.
type ExhaustedError struct {
	DataType domain.DataType
	Errors   map[string]error
}

func (e *ExhaustedError) Error() string {
	names := make([]string, 0, len(e.Errors))
	for name := range e.Errors {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Errors[name]))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("no sources available for %s", e.DataType)
	}
	return fmt.Sprintf("all sources exhausted for %s (%s)", e.DataType, strings.Join(parts, "; "))
}
