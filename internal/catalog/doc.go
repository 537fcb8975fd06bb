// Package catalog defines the data model shared by the ingestion pipeline:
// entries, the category tree and its path-structured keys, the account that
// owns the tracker session, and the narrow contracts for the catalog store,
// the work queue and the object store.
package catalog
