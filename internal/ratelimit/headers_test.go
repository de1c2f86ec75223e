package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]string
		want headerInfo
	}{
		{
			name: "full bucket state",
			set: map[string]string{
				HeaderLimit:      "5",
				HeaderRemaining:  "3",
				HeaderResetAfter: "2.5",
				HeaderBucket:     "abcd1234",
			},
			want: headerInfo{
				limit:      5,
				remaining:  3,
				resetAfter: 2500 * time.Millisecond,
				bucket:     "abcd1234",
				hasState:   true,
			},
		},
		{
			name: "missing remaining means no state",
			set: map[string]string{
				HeaderLimit:      "5",
				HeaderResetAfter: "2.5",
			},
			want: headerInfo{hasState: false},
		},
		{
			name: "malformed limit degrades to no state",
			set: map[string]string{
				HeaderLimit:      "banana",
				HeaderRemaining:  "3",
				HeaderResetAfter: "2.5",
			},
			want: headerInfo{hasState: false},
		},
		{
			name: "global flag via header",
			set: map[string]string{
				HeaderGlobal:     "true",
				HeaderRetryAfter: "6.457",
			},
			want: headerInfo{
				global:        true,
				retryAfter:    time.Duration(6.457 * float64(time.Second)),
				hasRetryAfter: true,
			},
		},
		{
			name: "global flag via scope",
			set: map[string]string{
				HeaderScope: "global",
			},
			want: headerInfo{global: true, scope: "global"},
		},
		{
			name: "no headers at all",
			set:  map[string]string{},
			want: headerInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.set {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, parseHeaders(h))
		})
	}
}

func TestParse429Body(t *testing.T) {
	retry, global, message, ok := parse429Body([]byte(
		`{"message": "You are being rate limited.", "retry_after": 6.457, "global": false}`))
	require.True(t, ok)
	assert.Equal(t, time.Duration(6.457*float64(time.Second)), retry)
	assert.False(t, global)
	assert.Equal(t, "You are being rate limited.", message)

	_, global, _, ok = parse429Body([]byte(`{"retry_after": 1.0, "global": true}`))
	require.True(t, ok)
	assert.True(t, global)

	_, _, _, ok = parse429Body([]byte(`{"message": "no retry field"}`))
	assert.False(t, ok)

	_, _, _, ok = parse429Body(nil)
	assert.False(t, ok)

	// Truncated JSON without the field is simply no information.
	_, _, _, ok = parse429Body([]byte(`{"mess`))
	assert.False(t, ok)
}

func TestParseSeconds(t *testing.T) {
	d, ok := parseSeconds("0.05")
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, d)

	_, ok = parseSeconds("")
	assert.False(t, ok)

	_, ok = parseSeconds("-1")
	assert.False(t, ok)

	_, ok = parseSeconds("soon")
	assert.False(t, ok)
}
