// Package catalog holds the calibration target catalogs and the pure
// astronomy the target selector ranks them with.
//
// Catalog data is YAML, validated against an embedded JSON Schema before it is
// decoded. The default spectrophotometric standard catalog is embedded in the
// binary; operators may point the engine at a replacement file via config.
//
// Catalog lookups never touch the network or the database: a Catalog is
// immutable once loaded and safe for concurrent use, so it may be consulted
// from inside a reconciliation transaction.
package catalog
