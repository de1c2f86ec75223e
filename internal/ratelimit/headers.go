package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Rate-limit response headers consumed from the upstream.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderResetAfter = "X-RateLimit-Reset-After"
	HeaderBucket     = "X-RateLimit-Bucket"
	HeaderGlobal     = "X-RateLimit-Global"
	HeaderScope      = "X-RateLimit-Scope"
	HeaderRetryAfter = "Retry-After"
)

// ScopeGlobal is the X-RateLimit-Scope value marking a credential-wide hit.
const ScopeGlobal = "global"

// headerInfo is the parsed rate-limit protocol state of one response.
type headerInfo struct {
	limit      int
	remaining  int
	resetAfter time.Duration
	bucket     string
	scope      string
	retryAfter time.Duration
	global     bool

	// hasState is set when limit, remaining, and reset-after all parsed.
	// A response missing any of them carries no new bucket information:
	// absent headers never imply zero remaining quota.
	hasState      bool
	hasRetryAfter bool
}

// parseHeaders extracts rate-limit state from response headers. Unparseable
// values degrade to "no new information" rather than an error; a single
// malformed response must never disturb existing bucket state.
func parseHeaders(h http.Header) headerInfo {
	var info headerInfo

	limit, okLimit := parseInt(h.Get(HeaderLimit))
	remaining, okRemaining := parseInt(h.Get(HeaderRemaining))
	resetAfter, okReset := parseSeconds(h.Get(HeaderResetAfter))
	if okLimit && okRemaining && okReset {
		info.limit = limit
		info.remaining = remaining
		info.resetAfter = resetAfter
		info.hasState = true
	}

	info.bucket = h.Get(HeaderBucket)
	info.scope = h.Get(HeaderScope)
	info.global = h.Get(HeaderGlobal) == "true" || info.scope == ScopeGlobal

	if retry, ok := parseSeconds(h.Get(HeaderRetryAfter)); ok {
		info.retryAfter = retry
		info.hasRetryAfter = true
	}

	return info
}

// parse429Body extracts the authoritative retry window from a 429 JSON body:
//
//	{"message": "You are being rate limited.", "retry_after": 6.457, "global": false}
//
// Returns ok=false when the body carries no retry_after field.
func parse429Body(body []byte) (retryAfter time.Duration, global bool, message string, ok bool) {
	if len(body) == 0 {
		return 0, false, "", false
	}
	retry := gjson.GetBytes(body, "retry_after")
	if !retry.Exists() {
		return 0, false, "", false
	}
	return secondsToDuration(retry.Float()),
		gjson.GetBytes(body, "global").Bool(),
		gjson.GetBytes(body, "message").String(),
		true
}

func parseInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseSeconds parses a duration expressed as decimal seconds, the format
// used by both X-RateLimit-Reset-After and Retry-After.
func parseSeconds(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return secondsToDuration(f), true
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
