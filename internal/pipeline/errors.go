package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Kind is the single classification assigned to a failed call.
type Kind int

const (
	// Unauthenticated means no credential was held, or the server reported
	// the credential invalid or expired.
	Unauthenticated Kind = iota + 1
	// Unreachable means no usable response was received.
	Unreachable
	// Rejected means the server answered with an error, or with a body that
	// does not have the expected shape.
	Rejected
	// TimedOut means the per-call budget elapsed first.
	TimedOut
)

func (k Kind) String() string {
	switch k {
	case Unauthenticated:
		return "unauthenticated"
	case Unreachable:
		return "unreachable"
	case Rejected:
		return "rejected"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// FieldViolation is one entry of a structured validation error. Path is the
// location as reported by the server, e.g. ["body", "amount"].
type FieldViolation struct {
	Path    []string
	Message string
}

// Detail is the parsed error body of a non-2xx response.
type Detail struct {
	Message string
	Fields  []FieldViolation
}

// Error is the only error type Call returns. Callers branch on Kind and never
// on the text or the transport cause.
type Error struct {
	Kind       Kind
	Op         string
	Status     int
	Detail     Detail
	SessionGen uint64
	cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Detail.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail.Message)
	} else if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// AsError returns err as *Error. Errors not produced by the pipeline are
// reported as Unreachable so every failure has exactly one class.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{Kind: Unreachable, cause: err}
}

// KindOf returns the classification of err, or 0 for nil.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	return AsError(err).Kind
}

// classifyStatus maps a non-2xx status to a Kind. authenticated tells whether
// the request carried the session credential: a 401 on an anonymous request
// (bad login) rejects the input rather than the session.
func classifyStatus(status int, authenticated bool) Kind {
	switch {
	case status == http.StatusUnauthorized && authenticated:
		return Unauthenticated
	case status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return Unreachable
	default:
		return Rejected
	}
}

// parseDetail reads the backend's error envelope. Both {"detail": "text"} and
// {"detail": [{"loc": [...], "msg": "..."}]} are understood, as well as
// list entries written as [loc, msg] pairs.
func parseDetail(status int, body []byte) Detail {
	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Detail{Message: statusMessage(status)}
	}

	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil && text != "" {
		return Detail{Message: text}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(envelope.Detail, &entries); err == nil {
		d := Detail{}
		for _, raw := range entries {
			if v, ok := parseViolation(raw); ok {
				d.Fields = append(d.Fields, v)
			}
		}
		if len(d.Fields) > 0 {
			d.Message = d.Fields[0].Message
			return d
		}
	}

	if envelope.Message != "" {
		return Detail{Message: envelope.Message}
	}
	return Detail{Message: statusMessage(status)}
}

func parseViolation(raw json.RawMessage) (FieldViolation, bool) {
	var obj struct {
		Loc []json.RawMessage `json:"loc"`
		Msg string            `json:"msg"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Msg != "" {
		return FieldViolation{Path: pathSegments(obj.Loc), Message: obj.Msg}, true
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return FieldViolation{}, false
	}
	var loc []json.RawMessage
	var msg string
	if json.Unmarshal(pair[0], &loc) != nil || json.Unmarshal(pair[1], &msg) != nil || msg == "" {
		return FieldViolation{}, false
	}
	return FieldViolation{Path: pathSegments(loc), Message: msg}, true
}

// pathSegments renders each location element as text; list indexes arrive as
// numbers.
func pathSegments(loc []json.RawMessage) []string {
	out := make([]string, 0, len(loc))
	for _, raw := range loc {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			out = append(out, s)
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			out = append(out, n.String())
			continue
		}
		out = append(out, string(raw))
	}
	return out
}

func statusMessage(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "status " + strconv.Itoa(status)
}
