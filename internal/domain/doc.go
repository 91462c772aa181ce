// Package domain defines the core ranking types and the contracts between components.
//
// Concept-oriented files (category.go, ranking.go, upstream.go, errors.go) hold value
// types and consumer-side interfaces. No implementation code beyond small helpers on
// the value types.
package domain
