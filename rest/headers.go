// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rest

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Rate-limit response headers.
const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerResetAfter = "X-RateLimit-Reset-After"
	headerBucket     = "X-RateLimit-Bucket"
	headerGlobal     = "X-RateLimit-Global"
	headerScope      = "X-RateLimit-Scope"
	headerRetryAfter = "Retry-After"
)

// Values of X-RateLimit-Scope.
const (
	scopeUser   = "user"
	scopeGlobal = "global"
	scopeShared = "shared"
)

// rateLimitInfo is what one response says about its bucket.
type rateLimitInfo struct {
	// present is false when the response carried no quota headers:
	// the route is not limited.
	present   bool
	limit     int
	remaining int
	resetAt   time.Time

	// resetAfter is the server's remaining window length; zero when
	// the response carried only an absolute reset.
	resetAfter time.Duration

	bucket string
	global bool
	scope  string
}

// parseRateLimit reads rate-limit headers relative to now. Reset-After
// is preferred over the absolute Reset so local clock skew does not
// distort the window.
func parseRateLimit(header http.Header, now time.Time) rateLimitInfo {
	info := rateLimitInfo{
		bucket: header.Get(headerBucket),
		global: strings.EqualFold(header.Get(headerGlobal), "true"),
		scope:  strings.ToLower(header.Get(headerScope)),
	}

	remaining, remainingErr := strconv.Atoi(header.Get(headerRemaining))
	limit, limitErr := strconv.Atoi(header.Get(headerLimit))
	if remainingErr != nil || limitErr != nil {
		return info
	}

	if after, ok := parseSeconds(header.Get(headerResetAfter)); ok {
		info.resetAfter = after
		info.resetAt = now.Add(after)
	} else if epoch, ok := parseSeconds(header.Get(headerReset)); ok {
		info.resetAt = time.Unix(0, 0).Add(epoch)
		if info.resetAt.After(now) {
			info.resetAfter = info.resetAt.Sub(now)
		}
	} else {
		return info
	}

	info.present = true
	info.limit = max(limit, 0)
	info.remaining = max(remaining, 0)
	return info
}

// parseSeconds parses a non-negative decimal seconds value such as
// "1.250" into a duration rounded up to the millisecond.
func parseSeconds(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds < 0 || math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return 0, false
	}
	return time.Duration(math.Ceil(seconds*1000)) * time.Millisecond, true
}

// tooManyRequestsBody is the JSON body of a 429 response.
type tooManyRequestsBody struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
	Code       int     `json:"code"`
}

// retryDelay returns how long to wait after a 429 and whether the
// limit is global. The body's retry_after is preferred; the headers
// are the fallback.
func retryDelay(header http.Header, body []byte, info rateLimitInfo) (time.Duration, bool) {
	var parsed tooManyRequestsBody
	_ = json.Unmarshal(body, &parsed)

	global := parsed.Global || info.global || info.scope == scopeGlobal

	if parsed.RetryAfter > 0 {
		return time.Duration(math.Ceil(parsed.RetryAfter*1000)) * time.Millisecond, global
	}
	if after, ok := parseSeconds(header.Get(headerRetryAfter)); ok {
		return after, global
	}
	if info.resetAfter > 0 {
		return info.resetAfter, global
	}
	// No usable hint. A one-second pause matches the shortest window
	// the server uses.
	return time.Second, global
}
