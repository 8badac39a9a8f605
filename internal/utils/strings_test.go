package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"single value", "AAPL", []string{"AAPL"}},
		{"multiple values", "AAPL,MSFT,NVDA", []string{"AAPL", "MSFT", "NVDA"}},
		{"whitespace around values", " AAPL , MSFT ", []string{"AAPL", "MSFT"}},
		{"empty segments dropped", "AAPL,,MSFT,", []string{"AAPL", "MSFT"}},
		{"only separators", ",,,", nil},
		{"only whitespace", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseCSV(tt.input))
		})
	}
}

func TestParseCSVPreservesInput(t *testing.T) {
	input := "AAPL, MSFT"
	_ = ParseCSV(input)
	assert.Equal(t, "AAPL, MSFT", input)
}

func TestParseSymbolList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string", "", nil},
		{"uppercases", "aapl,msft", []string{"AAPL", "MSFT"}},
		{"dedup keeps first", "AAPL,msft,aapl", []string{"AAPL", "MSFT"}},
		{"trims whitespace", " brk.b , spy ", []string{"BRK.B", "SPY"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseSymbolList(tt.input))
		})
	}
}
