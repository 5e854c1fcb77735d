// Package server implements the HTTP ingestion endpoint: POST uploads are stored and
// enhanced, every GET is a health probe, and Prometheus metrics are exposed on a
// configurable path.
package server
