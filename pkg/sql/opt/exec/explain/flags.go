// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package explain

import "github.com/cockroachdb/errors"

// Flags are modifiers for the plan output.
type Flags struct {
	// Verbose indicates that the output columns and the required and provided
	// physical properties of every node are shown.
	Verbose bool
	// ShowTypes indicates that the types of columns are shown.
	// If ShowTypes is true, then Verbose is also true.
	ShowTypes bool
	// If OnlyShape is true, we hide fields that could be different between 2
	// plans that otherwise have exactly the same shape, like estimated row
	// count and constants.
	OnlyShape bool

	// Flags to hide various fields for testing purposes.
	Deflake DeflakeFlags
}

// DeflakeFlags control hiding of various field values. They are used to
// guarantee deterministic results for testing purposes.
type DeflakeFlags uint8

const (
	// DeflakeRows hides the estimated row counts.
	DeflakeRows DeflakeFlags = (1 << iota)

	// DeflakeCost hides the estimated costs.
	DeflakeCost
)

const (
	// DeflakeAll has all deflake flags set.
	DeflakeAll DeflakeFlags = DeflakeRows | DeflakeCost
)

// HasAny returns true if the receiver has any of the given deflake flags set.
func (f DeflakeFlags) HasAny(flags DeflakeFlags) bool {
	return (f & flags) != 0
}

// ParseFlags creates Flags from option names: verbose, types, shape,
// hide-rows, hide-cost and deflake.
func ParseFlags(options ...string) (Flags, error) {
	var f Flags
	for _, o := range options {
		switch o {
		case "verbose":
			f.Verbose = true
		case "types":
			f.Verbose = true
			f.ShowTypes = true
		case "shape":
			f.OnlyShape = true
			f.Deflake = DeflakeAll
		case "hide-rows":
			f.Deflake |= DeflakeRows
		case "hide-cost":
			f.Deflake |= DeflakeCost
		case "deflake":
			f.Deflake = DeflakeAll
		default:
			return Flags{}, errors.Newf("unknown explain option %q", o)
		}
	}
	if f.OnlyShape && f.Verbose {
		return Flags{}, errors.New("shape cannot be combined with verbose or types")
	}
	return f, nil
}
