package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/marketdata/internal/domain"
)

func testChains() map[domain.DataType][]string {
	return map[domain.DataType][]string{
		domain.DataTypePrice:    {"alpha", "beta"},
		domain.DataTypeAnalysis: {},
	}
}

func newTestResolver(t *testing.T, providers ...*stubProvider) (*Resolver, map[string]*Adapter) {
	t.Helper()
	adapters := make([]*Adapter, 0, len(providers))
	byName := make(map[string]*Adapter)
	for _, p := range providers {
		a := NewAdapter(p, testResilienceConfig(), zerolog.Nop())
		adapters = append(adapters, a)
		byName[p.name] = a
	}
	return NewResolverWithChains(adapters, testChains(), zerolog.Nop()), byName
}

func TestChainFirstAdapterWins(t *testing.T) {
	alpha := newStubProvider("alpha")
	beta := newStubProvider("beta")
	resolver, _ := newTestResolver(t, alpha, beta)

	result, source, err := resolver.Run(context.Background(), Request{DataType: domain.DataTypePrice, Key: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", source)
	assert.JSONEq(t, `{"ok":true}`, string(result.Data))
	assert.Equal(t, 0, beta.callCount())
}

func TestChainFallsBackOnFailure(t *testing.T) {
	alpha := newStubProvider("alpha")
	alpha.err = errors.New("connection refused")
	beta := newStubProvider("beta")
	beta.result = Result{Data: json.RawMessage(`{"source":"beta"}`)}
	resolver, adapters := newTestResolver(t, alpha, beta)

	result, source, err := resolver.Run(context.Background(), Request{DataType: domain.DataTypePrice, Key: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "beta", source)
	assert.JSONEq(t, `{"source":"beta"}`, string(result.Data))

	// The failing adapter's breaker took exactly one failure
	assert.Equal(t, 1, adapters["alpha"].Breaker().FailureCount())
	assert.Equal(t, 0, adapters["beta"].Breaker().FailureCount())
}

func TestChainSkipsDisabledAdapter(t *testing.T) {
	alpha := newStubProvider("alpha")
	alpha.enabled = false
	beta := newStubProvider("beta")
	resolver, _ := newTestResolver(t, alpha, beta)

	_, source, err := resolver.Run(context.Background(), Request{DataType: domain.DataTypePrice, Key: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "beta", source)
	assert.Equal(t, 0, alpha.callCount())
}

func TestChainAllSourcesExhausted(t *testing.T) {
	alpha := newStubProvider("alpha")
	alpha.err = errors.New("timeout")
	beta := newStubProvider("beta")
	beta.err = errors.New("upstream 503")
	resolver, _ := newTestResolver(t, alpha, beta)

	_, _, err := resolver.Run(context.Background(), Request{DataType: domain.DataTypePrice, Key: "AAPL"})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, domain.DataTypePrice, exhausted.DataType)
	assert.Len(t, exhausted.Errors, 2)
	assert.Contains(t, exhausted.Error(), "alpha: timeout")
	assert.Contains(t, exhausted.Error(), "beta: upstream 503")
}

func TestChainEmptyResultIsAuthoritative(t *testing.T) {
	alpha := newStubProvider("alpha")
	alpha.result = Result{Empty: true}
	beta := newStubProvider("beta")
	resolver, _ := newTestResolver(t, alpha, beta)

	result, source, err := resolver.Run(context.Background(), Request{DataType: domain.DataTypePrice, Key: "DELISTED"})
	require.NoError(t, err)
	assert.True(t, result.Empty)
	assert.Equal(t, "alpha", source)
	// Upstream confirmed no data; the chain does not keep probing
	assert.Equal(t, 0, beta.callCount())
}

func TestHasSources(t *testing.T) {
	resolver, _ := newTestResolver(t, newStubProvider("alpha"))

	assert.True(t, resolver.HasSources(domain.DataTypePrice))
	assert.False(t, resolver.HasSources(domain.DataTypeAnalysis))
}

func TestDefaultChainsCoverEveryDataType(t *testing.T) {
	for _, dt := range domain.AllDataTypes {
		_, ok := DefaultChains[dt]
		assert.True(t, ok, "data type %s has no chain entry", dt)
	}
	assert.Empty(t, DefaultChains[domain.DataTypeAnalysis])
}
