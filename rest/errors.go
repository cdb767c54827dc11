// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bureau-foundation/shardwire/lib/fault"
)

// APIError is a non-2xx response. The service returns a JSON body
// with a numeric error code, a message, and for validation failures a
// nested errors object, which is kept raw.
type APIError struct {
	StatusCode int
	Method     string
	Path       string

	// Code is the service's JSON error code, distinct from the HTTP
	// status. Zero when the body was not JSON.
	Code    int
	Message string
	Errors  json.RawMessage

	// RetryAfter and Global are set on 429 responses.
	RetryAfter time.Duration
	Global     bool
}

func (err *APIError) Error() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "rest: %s %s: HTTP %d", err.Method, err.Path, err.StatusCode)
	if err.Code != 0 {
		fmt.Fprintf(&builder, " (code %d)", err.Code)
	}
	if err.Message != "" {
		fmt.Fprintf(&builder, ": %s", err.Message)
	}
	if err.StatusCode == http.StatusTooManyRequests {
		fmt.Fprintf(&builder, " (retry after %v", err.RetryAfter)
		if err.Global {
			builder.WriteString(", global")
		}
		builder.WriteString(")")
	}
	return builder.String()
}

// Kind classifies the response status.
func (err *APIError) Kind() fault.Kind {
	switch {
	case err.StatusCode == http.StatusTooManyRequests:
		return fault.RateLimited
	case err.StatusCode >= 500:
		return fault.ServerError
	default:
		return fault.ClientError
	}
}

// parseAPIError builds an APIError from a response body, tolerating
// bodies that are not JSON.
func parseAPIError(statusCode int, method, path string, body []byte) *APIError {
	apiError := &APIError{StatusCode: statusCode, Method: method, Path: path}
	var parsed struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Errors  json.RawMessage `json:"errors"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		apiError.Code = parsed.Code
		apiError.Message = parsed.Message
		apiError.Errors = parsed.Errors
	} else if len(body) > 0 {
		apiError.Message = strings.TrimSpace(string(body))
	}
	if apiError.Message == "" {
		apiError.Message = http.StatusText(statusCode)
	}
	return apiError
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 response: the token is
// invalid and retrying cannot help.
func IsUnauthorized(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusUnauthorized
}
