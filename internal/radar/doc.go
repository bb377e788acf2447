// Package radar defines the domain model shared across the market radar
// service: entities and their occurrence, metric and evaluation history, the
// raw records produced by sources, and the ports (stores, adapters, analyzers,
// evaluators) that the ingestion and evaluation services depend on.
package radar
