// Package ranking is the opportunity scoring engine: it fetches category pages
// from the upstream source within the request budget, aggregates and scores
// them, and builds immutable ranking snapshots served from an atomic cache.
package ranking
