package service

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// GenericDetail is reported when a failure carries no structured detail.
const GenericDetail = "the generation service could not be reached or returned an unreadable response"

// ServiceError reports a failed call to the generation service. Status is the
// HTTP status, or 0 when the request never produced a usable response
// (connection failure, timeout, unreadable body); the cause is kept in Err.
type ServiceError struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString("service: ")
	b.WriteString(e.Op)
	if e.Status > 0 {
		fmt.Fprintf(&b, ": %d %s", e.Status, http.StatusText(e.Status))
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil && e.Status == 0 {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether the failure happened before any HTTP status
// was received, or the body could not be parsed.
func (e *ServiceError) IsTransport() bool {
	return e.Status == 0
}

// AsServiceError extracts a ServiceError from err.
func AsServiceError(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

func transportError(op string, err error) *ServiceError {
	return &ServiceError{Op: op, Detail: GenericDetail, Err: err}
}

func statusError(op string, status int, body []byte) *ServiceError {
	return &ServiceError{Op: op, Status: status, Detail: extractDetail(body)}
}

// extractDetail pulls the `detail` member out of an error body. String details
// are returned as-is; structured ones are compacted. Bodies without a detail
// fall back to the trimmed text when it is short enough to be a message.
func extractDetail(body []byte) string {
	if gjson.ValidBytes(body) {
		detail := gjson.GetBytes(body, "detail")
		switch {
		case !detail.Exists() || detail.Type == gjson.Null:
		case detail.Type == gjson.String:
			return strings.TrimSpace(detail.String())
		default:
			return gjson.GetBytes(body, "detail|@ugly").Raw
		}
		if msg := gjson.GetBytes(body, "message"); msg.Type == gjson.String {
			return strings.TrimSpace(msg.String())
		}
		return ""
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 || strings.Contains(text, "<html") {
		return ""
	}
	return text
}
