package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/registry"
)

// recordingT captures assertion failures instead of failing the test
type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).GetOptions()

	assert.True(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.NilToEmptyArray)
	assert.True(t, opts.AllowPresencePlaceholder)
	assert.False(t, opts.IgnoreArrayOrder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Comparison(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		wantFail bool
	}{
		{
			name:     "extra keys ignored by default",
			actual:   `{"identifier":"u1","rssi":-40}`,
			expected: `{"identifier":"u1"}`,
		},
		{
			name:     "extra keys reported when strict",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"identifier":"u1","rssi":-40}`,
			expected: `{"identifier":"u1"}`,
			wantFail: true,
		},
		{
			name:     "presence placeholder matches any value",
			actual:   `{"identifier":"u1","last_seen":"2025-01-01T00:00:00Z"}`,
			expected: `{"identifier":"u1","last_seen":"<<PRESENCE>>"}`,
		},
		{
			name:     "null equals empty array",
			actual:   `{"peripherals":null}`,
			expected: `{"peripherals":[]}`,
		},
		{
			name:     "root arrays compared element by element",
			actual:   `[{"identifier":"u1"},{"identifier":"u2"}]`,
			expected: `[{"identifier":"u1"},{"identifier":"u3"}]`,
			wantFail: true,
		},
		{
			name:     "array order ignored on request",
			opts:     []Option{WithIgnoreArrayOrder(true)},
			actual:   `[{"identifier":"u2"},{"identifier":"u1"}]`,
			expected: `[{"identifier":"u1"},{"identifier":"u2"}]`,
		},
		{
			name:     "ignored fields",
			opts:     []Option{WithIgnoredFields("rssi"), WithIgnoreExtraKeys(false)},
			actual:   `{"identifier":"u1","rssi":-40}`,
			expected: `{"identifier":"u1","rssi":-90}`,
		},
		{
			name:     "invalid actual JSON",
			actual:   `{`,
			expected: `{}`,
			wantFail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &recordingT{}
			NewJSONAsserter(rt).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)

			if tt.wantFail {
				assert.NotEmpty(t, rt.errors, "assertion MUST fail")
			} else {
				assert.Empty(t, rt.errors, "assertion MUST pass")
			}
		})
	}
}

func TestJSONAsserter_AssertRecords(t *testing.T) {
	records := []registry.Record{
		{Identifier: "u1", Name: "SensorA", State: device.Connected},
		{Identifier: "u2", State: device.Disconnected, Handle: &Handle{ID: "u2"}},
	}

	NewJSONAsserter(t).AssertRecords(records, `[
		{"identifier": "u1", "name": "SensorA", "state": "connected"},
		{"identifier": "u2", "state": "disconnected"}
	]`)

	rt := &recordingT{}
	NewJSONAsserter(rt).AssertRecords(nil, `[]`)
	assert.Empty(t, rt.errors, "nil records MUST compare equal to an empty array")
}

func TestTextAsserter_Normalization(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		wantFail bool
	}{
		{name: "identical", actual: "a\nb", expected: "a\nb"},
		{name: "different", actual: "a\nb", expected: "a\nc", wantFail: true},
		{name: "leading whitespace", opts: []TextOption{WithIgnoreLeadingWhitespace(true)}, actual: "  a\n\tb", expected: "a\nb"},
		{name: "trailing whitespace", opts: []TextOption{WithIgnoreTrailingWhitespace(true)}, actual: "a  \nb\t", expected: "a\nb"},
		{name: "empty lines", opts: []TextOption{WithIgnoreEmptyLines(true)}, actual: "a\n\n  \nb", expected: "a\nb"},
		{name: "trim space", opts: []TextOption{WithTrimSpace(true)}, actual: "\n a\nb \n", expected: "a\nb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &recordingT{}
			NewTextAsserter(rt).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)

			if tt.wantFail {
				assert.NotEmpty(t, rt.errors)
			} else {
				assert.Empty(t, rt.errors)
			}
		})
	}
}

func TestTextAsserter_FailureShowsUnifiedDiff(t *testing.T) {
	rt := &recordingT{}

	NewTextAsserter(rt).Assert("INDEX NAME\n0 SensorB\n", "INDEX NAME\n0 SensorA\n")

	assert.Len(t, rt.errors, 1)
	assert.Contains(t, rt.errors[0], "-0 SensorA")
	assert.Contains(t, rt.errors[0], "+0 SensorB")
}

func TestTextAsserter_ColoredDiffShowsWhitespace(t *testing.T) {
	rt := &recordingT{}

	NewTextAsserter(rt).WithOptions(WithEnableColors(true)).Assert("a b", "a  b")

	assert.Len(t, rt.errors, 1)
	assert.Contains(t, rt.errors[0], "a·b")
}
