// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cat

// SourceKind identifies the connector through which a table's rows are
// read. Each kind has its own scan implementation rule.
type SourceKind uint8

const (
	OlapSource SourceKind = iota
	HiveSource
	IcebergSource
	HudiSource
	DeltaLakeSource
	PaimonSource
	FileSource
	SchemaSource
	MySQLSource
	ESSource
	JDBCSource
	MetaSource

	NumSourceKinds
)

var sourceKindNames = [NumSourceKinds]string{
	OlapSource:      "olap",
	HiveSource:      "hive",
	IcebergSource:   "iceberg",
	HudiSource:      "hudi",
	DeltaLakeSource: "deltalake",
	PaimonSource:    "paimon",
	FileSource:      "file",
	SchemaSource:    "schema",
	MySQLSource:     "mysql",
	ESSource:        "es",
	JDBCSource:      "jdbc",
	MetaSource:      "meta",
}

func (k SourceKind) String() string {
	if k >= NumSourceKinds {
		return "unknown"
	}
	return sourceKindNames[k]
}

// ParseSourceKind returns the source kind with the given name.
func ParseSourceKind(s string) (SourceKind, bool) {
	for i, n := range sourceKindNames {
		if n == s {
			return SourceKind(i), true
		}
	}
	return OlapSource, false
}

// IsRemote returns true for sources whose rows are fetched from another
// database system over the network.
func (k SourceKind) IsRemote() bool {
	switch k {
	case MySQLSource, JDBCSource, ESSource:
		return true
	}
	return false
}

// IsLake returns true for file-based lake formats, which are partitioned and
// read through file splits.
func (k SourceKind) IsLake() bool {
	switch k {
	case HiveSource, IcebergSource, HudiSource, DeltaLakeSource, PaimonSource, FileSource:
		return true
	}
	return false
}

// AcceptsPredicates returns true if the connector can evaluate pushed down
// predicates itself.
func (k SourceKind) AcceptsPredicates() bool {
	switch k {
	case MetaSource:
		return false
	}
	return true
}
