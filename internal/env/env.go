// Package env composes the environment handed to service processes.
package env

import (
	"os"
	"regexp"
	"sort"
	"strings"
)

var ref = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Env is a base environment that overrides are layered onto.
type Env struct {
	base map[string]string
}

// New returns an Env whose base is the given KEY=VALUE list.
func New(base []string) *Env {
	return &Env{base: Parse(base)}
}

// FromOS returns an Env based on the supervisor's own environment.
func FromOS() *Env {
	return New(os.Environ())
}

// Parse turns a KEY=VALUE list into a map. Entries without '=' or with an
// empty key are dropped; later entries win.
func Parse(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		m[kv[:i]] = kv[i+1:]
	}
	return m
}

// Merge applies layers over the base in order and returns the sorted
// KEY=VALUE list. ${VAR} references are resolved once against the composed
// map; unknown references are left as written.
func (e *Env) Merge(layers ...[]string) []string {
	m := make(map[string]string, len(e.base))
	for k, v := range e.base {
		m[k] = v
	}
	for _, l := range layers {
		for k, v := range Parse(l) {
			m[k] = v
		}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

func expand(s string, m map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return ref.ReplaceAllStringFunc(s, func(tok string) string {
		if v, ok := m[tok[2:len(tok)-1]]; ok {
			return v
		}
		return tok
	})
}
