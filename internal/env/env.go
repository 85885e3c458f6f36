// Package env composes the environment of autoscaler child processes.
package env

import (
	"regexp"
	"sort"
	"strings"
)

// Var maps variable names to values.
type Var map[string]string

var ref = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Parse reads KEY=VALUE pairs. Later entries win; entries without '=' or
// with an empty key are skipped.
func Parse(list []string) Var {
	m := make(Var, len(list))
	for _, kv := range list {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}

// List returns the pairs sorted by key.
func (v Var) List() []string {
	out := make([]string, 0, len(v))
	for k, val := range v {
		out = append(out, k+"="+val)
	}
	sort.Strings(out)
	return out
}

// Compose layers overrides on top of base and expands ${VAR} references in
// the override values. A reference resolves against the composed set, except
// that a variable referring to itself sees its base value. Base values are
// taken verbatim, unknown references are left as written, and expansion is a
// single pass.
func Compose(base, overrides []string) []string {
	baseVars := Parse(base)
	over := Parse(overrides)
	m := make(Var, len(baseVars)+len(over))
	for k, v := range baseVars {
		m[k] = v
	}
	for k, v := range over {
		m[k] = v
	}
	out := make(Var, len(m))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range over {
		out[k] = expand(v, func(name string) (string, bool) {
			if name == k {
				val, ok := baseVars[name]
				return val, ok
			}
			val, ok := m[name]
			return val, ok
		})
	}
	return out.List()
}

func expand(s string, lookup func(string) (string, bool)) string {
	return ref.ReplaceAllStringFunc(s, func(match string) string {
		if v, ok := lookup(match[2 : len(match)-1]); ok {
			return v
		}
		return match
	})
}
