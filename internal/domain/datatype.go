// Package domain holds the core types of the data-fetch layer: the data type
// enumeration, the cached result envelope, and the tri-state response callers
// branch on instead of catching exceptions.
package domain

import "fmt"

// DataType identifies a category of market data with its own freshness
// policy and fallback chain.
type DataType string

const (
	DataTypePrice            DataType = "price"
	DataTypeFundamentals     DataType = "fundamentals"
	DataTypeNews             DataType = "news"
	DataTypeMacro            DataType = "macro"
	DataTypeCOT              DataType = "cot"
	DataTypeOwnership        DataType = "ownership"
	DataTypeInsider          DataType = "insider"
	DataTypeAnalysis         DataType = "analysis"
	DataTypeOptions          DataType = "options"
	DataTypeEconomicCalendar DataType = "economic_calendar"
)

// AllDataTypes lists every known data type. Order is stable for reporting.
var AllDataTypes = []DataType{
	DataTypePrice,
	DataTypeFundamentals,
	DataTypeNews,
	DataTypeMacro,
	DataTypeCOT,
	DataTypeOwnership,
	DataTypeInsider,
	DataTypeAnalysis,
	DataTypeOptions,
	DataTypeEconomicCalendar,
}

// validDataTypes is a set for O(1) validation.
var validDataTypes = func() map[DataType]bool {
	m := make(map[DataType]bool, len(AllDataTypes))
	for _, dt := range AllDataTypes {
		m[dt] = true
	}
	return m
}()

// Valid reports whether dt is a known data type.
func (dt DataType) Valid() bool {
	return validDataTypes[dt]
}

// String returns the wire name of the data type.
func (dt DataType) String() string {
	return string(dt)
}

// ParseDataType converts a wire name into a DataType.
func ParseDataType(s string) (DataType, error) {
	dt := DataType(s)
	if !dt.Valid() {
		return "", fmt.Errorf("unknown data type: %s", s)
	}
	return dt, nil
}

// CacheKey builds the composite cache key for a data type and its
// identifying parameter (symbol, indicator name, currency pair, ...).
func CacheKey(dt DataType, key string) string {
	return string(dt) + ":" + key
}
