// Package wire defines the envelope types exchanged between capwire clients
// and servers, and the codec that moves them on and off the wire.
//
// An envelope is either a request ({"id","method","params"}) or a response.
// A response carries exactly one of a result ({"id","result"}) or an error
// ({"id","error":{"code","message"}}). Decoding never panics on peer input;
// malformed payloads come back as a *DecodeError so stream readers can drop
// the frame and keep going.
package wire

import (
	"encoding/json"
	"fmt"
)

// Request is a method invocation issued by the client.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response correlates back to a Request by ID. Exactly one of Result or Error
// is set.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Error is the failure outcome of a response.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("wire error %d: %s", e.Code, e.Message)
}

// Envelope is a decoded wire record: a request or a response. Use AsRequest
// and AsResponse to narrow it.
type Envelope struct {
	ID     int64           `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// UnmarshalJSON enforces envelope structure: requests must carry a method,
// responses must carry exactly one of result or error. Unknown fields are
// ignored so peers that add extras (e.g. a "jsonrpc" version tag) still
// interoperate.
func (m *Envelope) UnmarshalJSON(data []byte) error {
	type rawEnvelope struct {
		ID     int64           `json:"id"`
		Method string          `json:"method,omitempty"`
		Params json.RawMessage `json:"params,omitempty"`
		Result json.RawMessage `json:"result,omitempty"`
		Error  *Error          `json:"error,omitempty"`
	}

	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	hasMethod := raw.Method != ""
	hasResult := len(raw.Result) > 0
	hasError := raw.Error != nil

	if hasMethod {
		if hasResult || hasError {
			return fmt.Errorf("request cannot carry result or error fields")
		}
	} else {
		if hasResult && hasError {
			return fmt.Errorf("response cannot carry both result and error fields")
		}
		if !hasResult && !hasError {
			return fmt.Errorf("response must carry a result or an error field")
		}
	}

	m.ID = raw.ID
	m.Method = raw.Method
	m.Params = raw.Params
	m.Result = raw.Result
	m.Error = raw.Error

	return nil
}

// AsRequest returns the envelope as a Request, or nil if it is a response.
func (m *Envelope) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{ID: m.ID, Method: m.Method, Params: m.Params}
}

// AsResponse returns the envelope as a Response, or nil if it is a request.
func (m *Envelope) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{ID: m.ID, Result: m.Result, Error: m.Error}
}

// DecodeError reports a payload that could not be decoded into a valid
// envelope. It is non-fatal on stream paths: the frame is dropped and the
// stream continues.
type DecodeError struct {
	Cause error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode envelope: %v", e.Cause) }
func (e *DecodeError) Unwrap() error { return e.Cause }

// Decode parses one wire record.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Cause: err}
	}
	return &env, nil
}

// Encode serializes an envelope, request, or response. Marshaling these
// types cannot fail; Encode exists so callers hold the round-trip guarantee
// in one place.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// NewResultResponse builds a successful response, marshaling result.
func NewResultResponse(id int64, result any) (*Response, error) {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Response{ID: id, Result: resultBytes}, nil
}

// NewErrorResponse builds a failure response with the given code.
func NewErrorResponse(id int64, code ErrorCode, message string) *Response {
	return &Response{ID: id, Error: &Error{Code: code, Message: message}}
}
