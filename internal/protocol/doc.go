// Package protocol implements the upload wire format shared by the recorder and the
// ingestion server: request path matching, the out-of-band audio format headers, and
// body framing for both Content-Length and chunked uploads.
package protocol
