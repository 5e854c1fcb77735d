// Package events publishes a result event for every processed upload.
package events
