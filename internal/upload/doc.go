// Package upload sends a recorded payload to the ingestion server in a single attempt.
package upload
