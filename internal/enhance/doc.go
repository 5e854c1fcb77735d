// Package enhance wraps the speech-enhancement model behind a Backend interface.
// Backends are constructed and initialized once at startup, serialized so that only
// one enhancement runs at a time, and their failures are turned into a Fallback
// result instead of an error.
package enhance
