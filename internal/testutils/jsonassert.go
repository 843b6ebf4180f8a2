//go:build test

package testutils

import (
	"encoding/json"
	"fmt"
	"slices"
	"testing"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value, as long as the key exists.
const PresencePlaceholder = "<<PRESENCE>>"

type JSONAssertOptions struct {
	IgnoreExtraKeys          bool     `default:"true"`
	AllowPresencePlaceholder bool     `default:"true"`
	IgnoredFields            []string `default:""`
}

// Option configures a JSONAsserter.
type Option func(*JSONAssertOptions)

// JSONAsserter compares JSON documents structurally and reports an ASCII diff.
type JSONAsserter struct {
	t       testing.TB
	options JSONAssertOptions
}

func NewJSONAsserter(t testing.TB) *JSONAsserter {
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

func (ja *JSONAsserter) Options() JSONAssertOptions {
	return ja.options
}

// Assert fails the test when actual does not match expected.
func (ja *JSONAsserter) Assert(actual, expected string) {
	ja.t.Helper()
	if diff := ja.Diff(actual, expected); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
	}
}

// Diff returns "" when the documents match under the configured options.
func (ja *JSONAsserter) Diff(actual, expected string) string {
	var exp, act any
	if err := json.Unmarshal([]byte(expected), &exp); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &act); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	if _, ok := exp.([]any); ok {
		exp = map[string]any{"array": exp}
		act = map[string]any{"array": act}
	}
	ja.reconcile(exp, act)

	expBytes, _ := json.Marshal(exp)
	actBytes, _ := json.Marshal(act)
	diff, err := gojsondiff.New().Compare(expBytes, actBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	out, _ := formatter.NewAsciiFormatter(exp, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(diff)
	return out
}

// reconcile walks both trees in step, applying ignored fields, presence
// placeholders and extra-key pruning in place.
func (ja *JSONAsserter) reconcile(exp, act any) {
	switch e := exp.(type) {
	case map[string]any:
		a, _ := act.(map[string]any)
		for _, f := range ja.options.IgnoredFields {
			delete(e, f)
			if a != nil {
				delete(a, f)
			}
		}
		if a == nil {
			return
		}
		if ja.options.IgnoreExtraKeys {
			for k := range a {
				if _, ok := e[k]; !ok {
					delete(a, k)
				}
			}
		}
		for k, ev := range e {
			av, present := a[k]
			if s, ok := ev.(string); ok && s == PresencePlaceholder && ja.options.AllowPresencePlaceholder {
				if present {
					e[k] = av
				}
				continue
			}
			ja.reconcile(ev, av)
		}
	case []any:
		a, _ := act.([]any)
		for i := range e {
			if i < len(a) {
				ja.reconcile(e[i], a[i])
			}
		}
	}
}

func WithIgnoreExtraKeys(ignore bool) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoreExtraKeys = ignore }
}

func WithAllowPresencePlaceholder(allow bool) Option {
	return func(opts *JSONAssertOptions) { opts.AllowPresencePlaceholder = allow }
}

// WithIgnoredFields drops the named keys from every object expected and actual share.
func WithIgnoredFields(fields ...string) Option {
	return func(opts *JSONAssertOptions) { opts.IgnoredFields = slices.Clone(fields) }
}
