// Package audio describes PCM formats and wraps raw PCM payloads in WAV containers.
// The format triple travels as transport metadata, so nothing here infers it from
// payload bytes; WAV headers are written from, and read back into, a Format.
package audio
