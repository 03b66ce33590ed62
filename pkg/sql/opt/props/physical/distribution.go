// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package physical

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/cascades/pkg/sql/opt"
)

// DistributionType is the kind of placement of rows on nodes.
type DistributionType uint8

const (
	// AnyDistribution places no requirement on where rows are. It is only
	// used in required properties.
	AnyDistribution DistributionType = iota

	// SingletonDistribution puts all rows on a single node (gather).
	SingletonDistribution

	// HashDistribution partitions rows by the hash of Cols.
	HashDistribution

	// BroadcastDistribution replicates all rows to every node.
	BroadcastDistribution

	// RandomDistribution spreads rows on nodes without a placement key.
	RandomDistribution
)

var distributionTypeNames = [...]string{
	AnyDistribution:       "any",
	SingletonDistribution: "gather",
	HashDistribution:      "hash",
	BroadcastDistribution: "broadcast",
	RandomDistribution:    "random",
}

func (t DistributionType) String() string {
	return distributionTypeNames[t]
}

// Distribution describes the placement of rows provided or required by an
// operator.
type Distribution struct {
	Type DistributionType
	// Cols are the hash columns for HashDistribution. Two hash distributions
	// are only compatible if they use the same columns in the same order.
	Cols opt.ColList
}

// Common distributions.
var (
	AnyDist       = Distribution{Type: AnyDistribution}
	SingletonDist = Distribution{Type: SingletonDistribution}
	BroadcastDist = Distribution{Type: BroadcastDistribution}
	RandomDist    = Distribution{Type: RandomDistribution}
)

// HashDist returns a hash distribution on the given columns. It returns a
// singleton distribution if there are no columns.
func HashDist(cols ...opt.ColumnID) Distribution {
	if len(cols) == 0 {
		return SingletonDist
	}
	return Distribution{Type: HashDistribution, Cols: opt.ColList(cols).Copy()}
}

// Any returns true if the distribution places no requirement.
func (d Distribution) Any() bool {
	return d.Type == AnyDistribution
}

// Satisfies returns true if rows placed according to d also satisfy the
// required distribution.
func (d Distribution) Satisfies(required Distribution) bool {
	switch required.Type {
	case AnyDistribution:
		return true
	case HashDistribution:
		return d.Type == HashDistribution && d.Cols.Equals(required.Cols)
	default:
		return d.Type == required.Type
	}
}

// Equals returns true if the two distributions are identical.
func (d Distribution) Equals(rhs Distribution) bool {
	return d.Type == rhs.Type && d.Cols.Equals(rhs.Cols)
}

// Remap returns a copy of the distribution with its columns mapped.
func (d Distribution) Remap(m opt.ColMap) Distribution {
	if d.Type != HashDistribution {
		return d
	}
	cols := make(opt.ColList, len(d.Cols))
	for i, c := range d.Cols {
		cols[i] = m.Get(c)
	}
	return Distribution{Type: HashDistribution, Cols: cols}
}

// RestrictTo returns the distribution as seen by a consumer of only the given
// columns. A hash distribution on columns that are no longer visible becomes
// random.
func (d Distribution) RestrictTo(cols opt.ColSet) Distribution {
	if d.Type == HashDistribution && !d.Cols.ToSet().SubsetOf(cols) {
		return RandomDist
	}
	return d
}

func (d Distribution) String() string {
	var buf strings.Builder
	d.Format(&buf, nil)
	return buf.String()
}

// Format writes the distribution, using md for column names if not nil.
func (d Distribution) Format(buf *strings.Builder, md *opt.Metadata) {
	buf.WriteString(d.Type.String())
	if d.Type == HashDistribution {
		buf.WriteByte('(')
		for i, c := range d.Cols {
			if i > 0 {
				buf.WriteByte(',')
			}
			if md == nil {
				buf.WriteString(strconv.Itoa(int(c)))
				continue
			}
			buf.WriteString(md.QualifiedAlias(c))
		}
		buf.WriteByte(')')
	}
}
