package vars

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// Env is one immutable snapshot of environment variables. Providers hand a
// fresh snapshot to every composition pass; nothing here caches across calls.
type Env map[string]string

// Provider exposes the current environment. Implementations must return a
// snapshot the caller may read without further synchronization.
type Provider interface {
	Vars() Env
}

// StaticProvider wraps a fixed map, mostly for tests and one-shot CLI runs.
type StaticProvider Env

func (p StaticProvider) Vars() Env {
	return Env(p)
}

var placeholderPattern = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Substitute replaces every {{name}} occurrence with env[name]. Unknown
// names are left as literal text; a missing variable is not a failure.
// Malformed placeholders never match the pattern and pass through untouched.
func Substitute(input string, env Env) string {
	if input == "" || !strings.Contains(input, "{{") {
		return input
	}
	return placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if name == "" {
			return match
		}
		if value, ok := env[name]; ok {
			return value
		}
		if strings.HasPrefix(name, "$") {
			if value, ok := resolveDynamic(name); ok {
				return value
			}
		}
		return match
	})
}

// SubstituteValue walks an arbitrary decoded-JSON shape. Strings are
// substituted, slices map element-wise, maps walk key by key; numbers,
// booleans and nil pass through unchanged. Keys are substituted too since
// templated field names show up in stored request bodies.
func SubstituteValue(value interface{}, env Env) interface{} {
	switch v := value.(type) {
	case string:
		return Substitute(v, env)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = SubstituteValue(item, env)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			out[Substitute(key, env)] = SubstituteValue(item, env)
		}
		return out
	default:
		return value
	}
}

// Dynamic helpers mirror the usual .http tooling set. An environment entry
// with the same name shadows the helper.
func resolveDynamic(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "$timestamp":
		return fmt.Sprintf("%d", time.Now().Unix()), true
	case "$timestampiso8601":
		return time.Now().UTC().Format(time.RFC3339), true
	case "$randomint":
		n, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
		return n.String(), true
	case "$uuid", "$guid":
		return generateUUID(), true
	default:
		return "", false
	}
}

func generateUUID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
