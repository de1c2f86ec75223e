// Package ratelimit implements the rate-limit-aware admission and bucket
// synchronization engine for dc-relay.
//
// Every request is mapped to a rate-limit bucket predicted from its method
// and path (see ResolveRoute), admitted in strict FIFO order against that
// bucket's live state, and reconciled from the upstream's rate-limit response
// headers once the round trip completes. A credential-wide global limiter is
// consulted before any bucket admission.
//
// Basic usage:
//
//	limiter := ratelimit.NewLimiter(50, sink, logger)
//
//	route := ratelimit.ResolveRoute(req.Method, req.URL.Path)
//	ticket, err := limiter.Acquire(ctx, route)
//	if err != nil {
//		return err // canceled while waiting
//	}
//
//	resp, err := forward(req)
//	if err != nil {
//		ticket.Abort() // unknown outcome, bucket state untouched
//		return err
//	}
//	ticket.Done(resp.StatusCode, resp.Header, body429)
package ratelimit

import "strings"

// Route identifies the predicted rate-limit bucket for one request.
type Route struct {
	// Key is the predicted bucket key: method plus the templated path with
	// major parameter values folded in verbatim.
	Key string

	// Template is the route shape: method plus the fully templated path with
	// major parameters replaced by placeholders. The authoritative bucket
	// hash learned from the upstream is recorded against this shape.
	Template string

	// Majors holds the major parameter values, slash-joined in path order.
	// Combined with the upstream bucket hash to form the corrected key.
	Majors string
}

// Major parameter placeholders. The upstream buckets per channel, per guild,
// and per webhook, so those identifiers stay verbatim in the bucket key while
// every other identifier is templated away.
const (
	placeholderChannel = "{channel.id}"
	placeholderGuild   = "{guild.id}"
	placeholderWebhook = "{webhook.id}"
	placeholderToken   = "{webhook.token}"
	placeholderID      = "{id}"
	placeholderEmoji   = "{emoji}"
)

// ResolveRoute derives the Route for a request deterministically from its
// method and path. Unknown path shapes flow through the same generic
// templating, so classification never fails: every request is admitted
// through some bucket.
func ResolveRoute(method, path string) Route {
	trimmed := NormalizePath(path)
	segments := splitPath(trimmed)

	var key, template, majors strings.Builder
	key.Grow(len(method) + len(trimmed) + 1)
	template.Grow(len(method) + len(trimmed) + 1)
	key.WriteString(method)
	key.WriteByte(':')
	template.WriteString(method)
	template.WriteByte(':')

	for i, seg := range segments {
		key.WriteByte('/')
		template.WriteByte('/')

		keyPart, templatePart, major := classifySegment(segments, i)
		key.WriteString(keyPart)
		template.WriteString(templatePart)
		if major {
			if majors.Len() > 0 {
				majors.WriteByte('/')
			}
			majors.WriteString(seg)
		}
	}

	return Route{
		Key:      key.String(),
		Template: template.String(),
		Majors:   majors.String(),
	}
}

// classifySegment decides how segment i contributes to the key and template.
// Major parameters keep their value in the key; everything else that looks
// like an identifier is templated so `/a/123/b` and `/a/456/b` share a key.
func classifySegment(segments []string, i int) (keyPart, templatePart string, major bool) {
	seg := segments[i]

	if isSnowflake(seg) {
		switch prevSegment(segments, i) {
		case "channels":
			return seg, placeholderChannel, true
		case "guilds":
			return seg, placeholderGuild, true
		case "webhooks":
			return seg, placeholderWebhook, true
		}
		return placeholderID, placeholderID, false
	}

	// Webhook tokens are part of the bucket identity: execute-webhook limits
	// are tracked per webhook token, not per calling credential.
	if i >= 2 && segments[i-2] == "webhooks" && isSnowflake(segments[i-1]) {
		return seg, placeholderToken, true
	}

	// Emoji values under a reactions collection vary per call but share the
	// reaction bucket.
	if prevSegment(segments, i) == "reactions" {
		return placeholderEmoji, placeholderEmoji, false
	}

	return seg, seg, false
}

func prevSegment(segments []string, i int) string {
	if i == 0 {
		return ""
	}
	return segments[i-1]
}

// NormalizePath strips the optional /api and /api/vN prefixes so that keys
// are stable regardless of which API version a client targets.
func NormalizePath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api")
	if !ok {
		return path
	}
	if version, found := strings.CutPrefix(rest, "/v"); found {
		if n := strings.IndexByte(version, '/'); n > 0 && isDigits(version[:n]) {
			return version[n:]
		}
	}
	return rest
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// isSnowflake reports whether a segment looks like an upstream snowflake ID.
// Snowflakes are decimal uint64s; anything all-digits is treated as one.
func isSnowflake(s string) bool {
	return s != "" && len(s) <= 20 && isDigits(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
