package cachestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aristath/marketdata/internal/domain"
)

func TestTTLPolicyDefaults(t *testing.T) {
	policy := NewTTLPolicy(nil)

	assert.Equal(t, 15*time.Minute, policy.TTLFor(domain.DataTypePrice))
	assert.Equal(t, 24*time.Hour, policy.TTLFor(domain.DataTypeFundamentals))
	assert.Equal(t, 7*24*time.Hour, policy.TTLFor(domain.DataTypeCOT))
	assert.Equal(t, time.Hour, policy.TTLFor(domain.DataTypeAnalysis))

	// Every known data type has a policy entry
	for _, dt := range domain.AllDataTypes {
		assert.Greater(t, policy.TTLFor(dt), time.Duration(0), "data type %s", dt)
	}
}

func TestTTLPolicyOverrides(t *testing.T) {
	policy := NewTTLPolicy(map[domain.DataType]time.Duration{
		domain.DataTypePrice: time.Minute,
		domain.DataTypeNews:  0, // Zero keeps the default
	})

	assert.Equal(t, time.Minute, policy.TTLFor(domain.DataTypePrice))
	assert.Equal(t, 30*time.Minute, policy.TTLFor(domain.DataTypeNews))
}

func TestTTLPolicyIgnoresUnknownTypes(t *testing.T) {
	policy := NewTTLPolicy(map[domain.DataType]time.Duration{
		domain.DataType("weather"): time.Minute,
	})
	assert.Equal(t, time.Duration(0), policy.TTLFor(domain.DataType("weather")))
}
