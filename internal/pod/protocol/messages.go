// Package protocol defines the messages exchanged with a pod over its
// standard pipes. Messages are JSON objects, one per line.
package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownControl = errors.New("unknown control message")
	ErrLineTooLong    = errors.New("line exceeds maximum length")
)

// ControlType discriminates control messages sent by a pod.
type ControlType string

const (
	// ControlReady is sent once the pod has finished initializing.
	ControlReady ControlType = "ready"

	// ControlLog carries a log line for the host logger.
	ControlLog ControlType = "log"
)

// Message is one decoded line of pod output. It is either a *Response,
// a *Ready or a *Log.
type Message interface {
	isMessage()
}

// Request is written to the pod's stdin.
type Request struct {
	// ID is echoed verbatim in the matching response.
	ID string `json:"id"`

	// Action names the verb the pod should perform.
	Action string `json:"action"`

	// Payload holds the action arguments.
	Payload map[string]any `json:"payload"`
}

// Response answers the request with the same ID.
type Response struct {
	ID         string         `json:"id"`
	Success    bool           `json:"success"`
	Result     map[string]any `json:"result"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs,omitempty"`
}

// Err returns a *ResponseError if the pod reported a failure.
func (r *Response) Err() error {
	if r == nil || r.Success {
		return nil
	}

	return &ResponseError{ID: r.ID, Message: r.Error}
}

// Ready is the readiness handshake.
type Ready struct {
	// MemoryMB is the footprint estimate reported by the pod.
	MemoryMB int
}

// Log is a log line emitted by the pod.
type Log struct {
	Level   string
	Message string
}

func (*Response) isMessage() {}
func (*Ready) isMessage()    {}
func (*Log) isMessage()      {}

// ResponseError is a request-level failure reported by the pod.
type ResponseError struct {
	ID      string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request %s failed", e.ID)
	}

	return fmt.Sprintf("request %s failed: %s", e.ID, e.Message)
}
