// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package types defines the scalar type families seen by the optimizer. The
// optimizer never coerces or checks types; it only needs enough information
// to name columns and estimate row widths.
package types

import "strings"

// Family is the broad category of a scalar type.
type Family uint8

const (
	UnknownFamily Family = iota
	BoolFamily
	IntFamily
	FloatFamily
	DecimalFamily
	StringFamily
	BytesFamily
	DateFamily
	TimestampFamily
	JSONFamily
)

var familyNames = [...]string{
	UnknownFamily:   "unknown",
	BoolFamily:      "bool",
	IntFamily:       "int",
	FloatFamily:     "float",
	DecimalFamily:   "decimal",
	StringFamily:    "string",
	BytesFamily:     "bytes",
	DateFamily:      "date",
	TimestampFamily: "timestamp",
	JSONFamily:      "json",
}

func (f Family) String() string {
	if int(f) < len(familyNames) {
		return familyNames[f]
	}
	return "unknown"
}

// T is a scalar type.
type T struct {
	Family Family
	// Width is the declared width in bytes for variable-length families. Zero
	// means the family default is used.
	Width int32
}

// Predefined types.
var (
	Unknown   = &T{Family: UnknownFamily}
	Bool      = &T{Family: BoolFamily}
	Int       = &T{Family: IntFamily}
	Float     = &T{Family: FloatFamily}
	Decimal   = &T{Family: DecimalFamily}
	String    = &T{Family: StringFamily}
	Bytes     = &T{Family: BytesFamily}
	Date      = &T{Family: DateFamily}
	Timestamp = &T{Family: TimestampFamily}
	Jsonb     = &T{Family: JSONFamily}
)

// AvgSize returns the estimated average size in bytes of a value of this type.
func (t *T) AvgSize() float64 {
	if t == nil {
		return 8
	}
	if t.Width > 0 {
		return float64(t.Width)
	}
	switch t.Family {
	case BoolFamily:
		return 1
	case IntFamily, FloatFamily, DateFamily, TimestampFamily:
		return 8
	case DecimalFamily:
		return 16
	case StringFamily, BytesFamily:
		return 16
	case JSONFamily:
		return 64
	}
	return 8
}

// Equivalent returns true if the two types belong to the same family.
func (t *T) Equivalent(other *T) bool {
	return t.Family == other.Family
}

func (t *T) String() string {
	if t == nil {
		return "unknown"
	}
	return t.Family.String()
}

// FromString returns the type with the given family name, or nil if there is
// no such family.
func FromString(name string) *T {
	switch strings.ToLower(name) {
	case "bool", "boolean":
		return Bool
	case "int", "int8", "int4", "integer", "bigint":
		return Int
	case "float", "double", "real":
		return Float
	case "decimal", "numeric":
		return Decimal
	case "string", "varchar", "text", "char":
		return String
	case "bytes":
		return Bytes
	case "date":
		return Date
	case "timestamp", "datetime":
		return Timestamp
	case "json", "jsonb":
		return Jsonb
	}
	return nil
}
