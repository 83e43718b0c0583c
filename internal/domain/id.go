package domain

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// RequestIDPrefix is the TypeID prefix of analysis request ids ("req_...").
const RequestIDPrefix = "req"

// NewRequestID returns a new K-sortable request id.
func NewRequestID() string {
	tid, err := typeid.Generate(RequestIDPrefix)
	if err != nil {
		panic(fmt.Sprintf("domain: invalid request id prefix: %v", err))
	}
	return tid.String()
}

// ParseRequestID validates s as a request id.
func ParseRequestID(s string) (string, error) {
	tid, err := typeid.Parse(s)
	if err != nil {
		return "", &ValidationError{Field: "request_id", Message: err.Error()}
	}
	if tid.Prefix() != RequestIDPrefix {
		return "", &ValidationError{Field: "request_id", Message: fmt.Sprintf("unexpected prefix %q", tid.Prefix())}
	}
	return tid.String(), nil
}
