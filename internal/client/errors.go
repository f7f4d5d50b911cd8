package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

var (
	// ErrUnauthorized is matched by 401 and 403 responses
	ErrUnauthorized = errors.New("backend rejected credentials")
	// ErrNotFound is matched by 404 responses
	ErrNotFound = errors.New("backend resource not found")
)

// FieldError is one validation failure reported by the backend
type FieldError struct {
	Field    string
	Messages []string
}

// APIError is a non-2xx backend response
type APIError struct {
	StatusCode  int
	Message     string
	FieldErrors []FieldError
	Body        string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, msg)
}

// Unwrap lets errors.Is match ErrUnauthorized and ErrNotFound
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

var (
	messageKeys    = []string{"message", "error", "detail", "msg", "mensaje", "title"}
	fieldErrorKeys = []string{"errors", "fieldErrors", "field_errors", "validationErrors", "details"}
)

// newAPIError extracts a message and field errors from whatever error body
// shape the backend used. Supported shapes:
//
//	{"message": "...", "errors": {"email": ["taken"], "name": "required"}}
//	{"errors": [{"field": "email", "message": "taken"}]}
//	{"email": ["taken"]}
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return apiErr
	}

	for _, key := range messageKeys {
		if s, ok := raw[key].(string); ok && s != "" {
			apiErr.Message = s
			break
		}
	}

	for _, key := range fieldErrorKeys {
		if v, ok := raw[key]; ok {
			apiErr.FieldErrors = parseFieldErrors(v)
			if len(apiErr.FieldErrors) > 0 {
				return apiErr
			}
		}
	}

	// Bare field map: every remaining key whose value is a message list
	var bare []FieldError
	for field, v := range raw {
		if isMessageKey(field) {
			continue
		}
		if msgs := messagesOf(v); len(msgs) > 0 {
			if _, isList := v.([]any); isList {
				bare = append(bare, FieldError{Field: field, Messages: msgs})
			}
		}
	}
	sortFieldErrors(bare)
	apiErr.FieldErrors = bare
	return apiErr
}

func parseFieldErrors(v any) []FieldError {
	var out []FieldError
	switch errs := v.(type) {
	case map[string]any:
		for field, msgs := range errs {
			if m := messagesOf(msgs); len(m) > 0 {
				out = append(out, FieldError{Field: field, Messages: m})
			}
		}
		sortFieldErrors(out)
	case []any:
		for _, item := range errs {
			obj, ok := item.(map[string]any)
			if !ok {
				if s, ok := item.(string); ok && s != "" {
					out = append(out, FieldError{Messages: []string{s}})
				}
				continue
			}
			field, _ := firstString(obj, "field", "path", "param", "property")
			msgs := messagesOf(obj["messages"])
			if len(msgs) == 0 {
				if msg, ok := firstString(obj, "message", "msg", "error", "issue"); ok {
					msgs = []string{msg}
				}
			}
			if len(msgs) > 0 {
				out = append(out, FieldError{Field: field, Messages: msgs})
			}
		}
	}
	return out
}

func messagesOf(v any) []string {
	switch m := v.(type) {
	case string:
		if m != "" {
			return []string{m}
		}
	case []any:
		var out []string
		for _, item := range m {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func firstString(obj map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func isMessageKey(key string) bool {
	for _, k := range messageKeys {
		if k == key {
			return true
		}
	}
	return key == "status" || key == "statusCode" || key == "code" || key == "timestamp" || key == "path"
}

func sortFieldErrors(errs []FieldError) {
	sort.Slice(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
}
