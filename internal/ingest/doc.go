// Package ingest persists uploaded audio, runs it through the enhancement backend
// and composes the response naming the file that was produced.
package ingest
