package upload

// Result is the outcome of Upload: Accepted, Rejected or TransportError
type Result interface {
	isResult()
}

// Accepted is a 2xx response. Artifact is the file name the server reported, if any.
type Accepted struct {
	Message   string
	Artifact  string
	RequestID string
}

// Rejected is a non-2xx response
type Rejected struct {
	StatusCode int
	Body       string
	RequestID  string
}

// TransportError means no response was received
type TransportError struct {
	Err error
}

func (Accepted) isResult()       {}
func (Rejected) isResult()       {}
func (TransportError) isResult() {}

func (e TransportError) Error() string { return e.Err.Error() }
func (e TransportError) Unwrap() error { return e.Err }
