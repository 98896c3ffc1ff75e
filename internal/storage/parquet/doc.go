// Package parquet persists measurement rows as columnar Parquet files.
//
// This is the write-side of the measurement store collaborator: histogram
// snapshots and scalar interval rows are appended as immutable row groups.
// Quantile marker triples are stored as fixed-width array columns (five
// heights, five positions, five desired positions per tracked quantile),
// so an estimator can be reconstructed from any row.
package parquet
