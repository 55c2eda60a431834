package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// envelope holds the raw fields of a line. Fields are decoded one by one,
// so a field of an unexpected type only loses that field and not the line.
type envelope map[string]json.RawMessage

// Decode parses a single line. Lines with a "type" field are control
// messages, lines with an "id" field are responses. Anything else is
// rejected with ErrMalformed.
func Decode(line []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if raw, ok := env.field("type"); ok {
		t, ok := stringValue(raw)
		if !ok {
			return nil, fmt.Errorf("%w: type is not a string", ErrMalformed)
		}
		return decodeControl(ControlType(t), env)
	}

	raw, ok := env.field("id")
	if !ok {
		return nil, fmt.Errorf("%w: missing id", ErrMalformed)
	}

	id, ok := stringValue(raw)
	if !ok {
		return nil, fmt.Errorf("%w: id is not a string", ErrMalformed)
	}

	return decodeResponse(id, env), nil
}

func decodeControl(t ControlType, env envelope) (Message, error) {
	switch t {
	case ControlReady:
		var memoryMB int
		if mb, ok := env.number("memoryMB"); ok && mb > 0 && mb < math.MaxInt32 {
			memoryMB = int(mb)
		}
		return &Ready{MemoryMB: memoryMB}, nil
	case ControlLog:
		return &Log{Level: env.text("level"), Message: env.text("message")}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownControl, t)
	}
}

func decodeResponse(id string, env envelope) *Response {
	res := &Response{ID: id, Error: env.text("error")}

	if raw, ok := env.field("success"); ok {
		var success bool
		if err := json.Unmarshal(raw, &success); err == nil {
			res.Success = success
		}
	}

	if raw, ok := env.field("result"); ok {
		if err := json.Unmarshal(raw, &res.Result); err != nil {
			res.Result = nil
		}
	}

	if ms, ok := env.number("durationMs"); ok && ms > 0 && ms < math.MaxInt64 {
		res.DurationMs = int64(ms)
	}

	return res
}

// field returns the raw value of key, treating null like a missing key.
func (e envelope) field(key string) (json.RawMessage, bool) {
	raw, ok := e[key]
	if !ok || string(raw) == "null" {
		return nil, false
	}

	return raw, true
}

func (e envelope) number(key string) (float64, bool) {
	raw, ok := e.field(key)
	if !ok {
		return 0, false
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}

	return n, true
}

// text returns key as a string. Values of other types are returned as
// their JSON text.
func (e envelope) text(key string) string {
	raw, ok := e.field(key)
	if !ok {
		return ""
	}

	if s, ok := stringValue(raw); ok {
		return s
	}

	return string(raw)
}

func stringValue(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}

	return s, true
}

// Encoder writes requests as newline terminated JSON. It is not safe for
// concurrent use.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes req followed by a newline in a single write, so a line is
// never interleaved with another request on the pipe.
func (e *Encoder) Encode(req Request) error {
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}

	return nil
}
