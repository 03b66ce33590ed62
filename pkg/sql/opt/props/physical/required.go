// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package physical

import (
	"strings"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
)

// Required properties are interesting characteristics of an expression that
// impact its layout, presentation, or location, but not its logical content.
// Examples include row order and row placement across nodes. Physical
// properties exist outside of the relational algebra, and arise from both
// the SQL query itself (e.g. the non-relational ORDER BY operator) and by the
// selection of specific implementations during optimization (e.g. a merge
// join requires the inputs to be sorted in a particular order).
//
// Properties are provided by an operator or by its inputs, and can be
// enforced by the optimizer by interposing a sort or distribute operator.
// Required properties are interned by the memo, so two equal requirements
// share the same pointer.
type Required struct {
	// Distribution specifies where the rows must be placed.
	Distribution Distribution

	// Ordering specifies the sort order of the rows.
	Ordering opt.Ordering
}

// MinRequired are the default physical properties that require nothing and
// provide nothing.
var MinRequired = &Required{}

// Defined is true if any physical property is defined. If none is defined,
// then this is an instance of MinRequired.
func (p *Required) Defined() bool {
	return !p.Distribution.Any() || !p.Ordering.Empty()
}

// Satisfies returns true if rows having the properties p also satisfy the
// required properties.
func (p *Required) Satisfies(required *Required) bool {
	return p.Distribution.Satisfies(required.Distribution) && p.Ordering.Provides(required.Ordering)
}

// Equals returns true if the two physical properties are identical.
func (p *Required) Equals(rhs *Required) bool {
	return p.Distribution.Equals(rhs.Distribution) && p.Ordering.Equals(rhs.Ordering)
}

// WithoutOrdering returns a copy with no ordering requirement.
func (p *Required) WithoutOrdering() *Required {
	return &Required{Distribution: p.Distribution}
}

// WithoutDistribution returns a copy with no distribution requirement.
func (p *Required) WithoutDistribution() *Required {
	return &Required{Ordering: p.Ordering}
}

// Fingerprint returns a canonical key for the properties, used for interning.
func (p *Required) Fingerprint() string {
	return p.String()
}

func (p *Required) String() string {
	var buf strings.Builder
	p.Format(&buf, nil)
	return buf.String()
}

// Format writes the properties, using md for column names if not nil:
//
//	[distribution: hash(1,2)] [ordering: +1]
func (p *Required) Format(buf *strings.Builder, md *opt.Metadata) {
	if !p.Defined() {
		buf.WriteString("[]")
		return
	}
	sep := ""
	if !p.Distribution.Any() {
		buf.WriteString("[distribution: ")
		p.Distribution.Format(buf, md)
		buf.WriteByte(']')
		sep = " "
	}
	if !p.Ordering.Empty() {
		buf.WriteString(sep)
		buf.WriteString("[ordering: ")
		p.Ordering.Format(buf, md)
		buf.WriteByte(']')
	}
}
