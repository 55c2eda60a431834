package runtime

import "net/http"

// Request represents an incoming request. Capability and Action are empty
// if the route does not carry them.
type Request struct {
	Method     string
	Capability string
	Action     string
	Body       []byte
	Header     http.Header
}

// Response represents an outgoing response.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}
