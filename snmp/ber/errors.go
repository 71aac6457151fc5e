package ber

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse matches every *MalformedError via errors.Is.
var ErrMalformedResponse = errors.New("malformed response")

// MalformedError reports a framing or type-tag violation found while decoding.
// Offset is the byte position in the received datagram where the problem was
// detected.
type MalformedError struct {
	Offset int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("ber: malformed response at offset %d: %s", e.Offset, e.Reason)
}

// Is lets callers test with errors.Is(err, ErrMalformedResponse).
func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedResponse
}

func malformed(offset int, format string, args ...interface{}) error {
	return &MalformedError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// AgentError is returned when a well-formed GetResponse carries a non-zero
// error-status: the agent understood the request and declined it.
type AgentError struct {
	Status int
	Index  int
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("ber: agent error %s (status %d, index %d)", ErrorStatusName(e.Status), e.Status, e.Index)
}

// ErrorStatusName returns the RFC 3416 name for an error-status value.
func ErrorStatusName(status int) string {
	switch status {
	case 0:
		return "noError"
	case 1:
		return "tooBig"
	case 2:
		return "noSuchName"
	case 3:
		return "badValue"
	case 4:
		return "readOnly"
	case 5:
		return "genErr"
	case 6:
		return "noAccess"
	case 7:
		return "wrongType"
	case 8:
		return "wrongLength"
	case 9:
		return "wrongEncoding"
	case 10:
		return "wrongValue"
	case 11:
		return "noCreation"
	case 12:
		return "inconsistentValue"
	case 13:
		return "resourceUnavailable"
	case 14:
		return "commitFailed"
	case 15:
		return "undoFailed"
	case 16:
		return "authorizationError"
	case 17:
		return "notWritable"
	case 18:
		return "inconsistentName"
	default:
		return "unknown"
	}
}
