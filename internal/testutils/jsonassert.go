package testutils

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"

	"github.com/srg/blecentral/internal/registry"
)

// PresencePlaceholder in expected JSON matches any actual value of that key
const PresencePlaceholder = "<<PRESENCE>>"

func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	NilToEmptyArray          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
	IgnoreArrayOrder         bool     `default:"false"`
}

// Option is a functional option for configuring JSONAsserter
type Option func(*JSONAssertOptions)

type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates a new JSONAsserter with default options
func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

func (ja *JSONAsserter) GetOptions() JSONAssertOptions {
	return ja.options
}

// Assert compares actualJSON against expectedJSON
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) {
	if h, ok := ja.t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// AssertRecords compares registry records against expectedJSON
func (ja *JSONAsserter) AssertRecords(records []registry.Record, expectedJSON string) {
	if records == nil {
		records = []registry.Record{}
	}
	ja.Assert(MustJSON(records), expectedJSON)
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var expected, actual interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root
	if isArray(expected) && isArray(actual) {
		expected = map[string]interface{}{"array": expected}
		actual = map[string]interface{}{"array": actual}
	}

	if ja.options.AllowPresencePlaceholder {
		replacePresenceWithActual(expected, actual)
	}
	if ja.options.NilToEmptyArray {
		normalizeNilArrays(expected, actual)
	}
	// Ignored fields must be gone before sorting, or they change the sort order
	if len(ja.options.IgnoredFields) > 0 {
		removeIgnoredFields(expected, actual, ja.options.IgnoredFields)
	}
	if ja.options.IgnoreArrayOrder {
		sortArrays(expected)
		sortArrays(actual)
	}
	if ja.options.IgnoreExtraKeys {
		pruneExtraKeys(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       false,
	})
	out, _ := f.Format(diff)
	return out
}

// walkPairs visits matching object keys and array positions of expected and actual
func walkPairs(expected, actual interface{}, visit func(exp, act interface{})) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		if act, ok := actual.(map[string]interface{}); ok {
			for k := range exp {
				visit(exp[k], act[k])
			}
		}
	case []interface{}:
		if act, ok := actual.([]interface{}); ok {
			for i := range exp {
				if i < len(act) {
					visit(exp[i], act[i])
				}
			}
		}
	}
}

func replacePresenceWithActual(expected, actual interface{}) {
	if exp, ok := expected.(map[string]interface{}); ok {
		if act, ok := actual.(map[string]interface{}); ok {
			for k, v := range exp {
				if s, ok := v.(string); ok && s == PresencePlaceholder {
					exp[k] = act[k]
				}
			}
		}
	}
	walkPairs(expected, actual, replacePresenceWithActual)
}

// normalizeNilArrays turns null into [] where the other side is null or an empty array
func normalizeNilArrays(expected, actual interface{}) {
	switch exp := expected.(type) {
	case map[string]interface{}:
		act, ok := actual.(map[string]interface{})
		if !ok {
			return
		}
		for k := range exp {
			if nilOrEmptyPair(exp[k], act[k]) {
				exp[k], act[k] = []interface{}{}, []interface{}{}
			}
		}
	case []interface{}:
		act, ok := actual.([]interface{})
		if !ok {
			return
		}
		for i := range exp {
			if i < len(act) && nilOrEmptyPair(exp[i], act[i]) {
				exp[i], act[i] = []interface{}{}, []interface{}{}
			}
		}
	}
	walkPairs(expected, actual, normalizeNilArrays)
}

func nilOrEmptyPair(a, b interface{}) bool {
	empty := func(v interface{}) bool {
		arr, ok := v.([]interface{})
		return ok && len(arr) == 0
	}
	return (a == nil && b == nil) || (a == nil && empty(b)) || (b == nil && empty(a))
}

// pruneExtraKeys removes keys in actual that are not in expected
func pruneExtraKeys(actual, expected interface{}) {
	if exp, ok := expected.(map[string]interface{}); ok {
		if act, ok := actual.(map[string]interface{}); ok {
			for k := range act {
				if _, exists := exp[k]; !exists {
					delete(act, k)
				}
			}
		}
	}
	walkPairs(expected, actual, func(exp, act interface{}) { pruneExtraKeys(act, exp) })
}

func removeIgnoredFields(expected, actual interface{}, ignored []string) {
	if exp, ok := expected.(map[string]interface{}); ok {
		if act, ok := actual.(map[string]interface{}); ok {
			for _, field := range ignored {
				delete(exp, field)
				delete(act, field)
			}
		}
	}
	walkPairs(expected, actual, func(exp, act interface{}) { removeIgnoredFields(exp, act, ignored) })
}

func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoreExtraKeys = ignore }
}

func WithNilToEmptyArray(normalize bool) Option {
	return func(opts *JSONAssertOptions) { opts.NilToEmptyArray = normalize }
}

func WithAllowPresencePlaceholder(allow bool) Option {
	return func(opts *JSONAssertOptions) { opts.AllowPresencePlaceholder = allow }
}

func WithIgnoredFields(fields ...string) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoredFields = fields }
}

func WithIgnoreArrayOrder(ignore bool) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoreArrayOrder = ignore }
}

func isArray(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

// sortArrays sorts every array by the JSON form of its elements
func sortArrays(data interface{}) {
	switch v := data.(type) {
	case map[string]interface{}:
		for key := range v {
			sortArrays(v[key])
		}
	case []interface{}:
		for _, elem := range v {
			sortArrays(elem)
		}
		sort.Slice(v, func(i, j int) bool {
			return MustJSON(v[i]) < MustJSON(v[j])
		})
	}
}
