// Package secrets resolves api_key_ref values on model candidates into
// credentials. References look like "env:OPENAI_API_KEY", "file:/run/secrets/x"
// or a bare name, which every resolver interprets its own way.
package secrets

import (
	"os"
	"path/filepath"
	"strings"
)

// Resolver turns a reference into a secret. ok is false when the secret is
// absent or empty.
type Resolver interface {
	Resolve(ref string) (value string, ok bool)
}

func split(ref string) (scheme, name string) {
	if i := strings.IndexByte(ref, ':'); i > 0 {
		return strings.ToLower(ref[:i]), ref[i+1:]
	}
	return "", ref
}

// EnvResolver reads "env:NAME" or a bare NAME from the process environment.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

func (r *EnvResolver) Resolve(ref string) (string, bool) {
	scheme, name := split(ref)
	if scheme != "" && scheme != "env" {
		return "", false
	}
	v, ok := r.lookup(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// FileResolver reads "file:/abs/path", or a bare name relative to Dir
// (docker/k8s mounted secrets).
type FileResolver struct {
	Dir string
}

func (r *FileResolver) Resolve(ref string) (string, bool) {
	scheme, name := split(ref)
	var path string
	switch {
	case scheme == "file":
		path = name
	case scheme == "" && r.Dir != "":
		if strings.ContainsAny(name, `/\`) {
			return "", false
		}
		path = filepath.Join(r.Dir, name)
	default:
		return "", false
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(string(b))
	return v, v != ""
}

// Chain tries each resolver in order.
type Chain []Resolver

func (c Chain) Resolve(ref string) (string, bool) {
	if strings.TrimSpace(ref) == "" {
		return "", false
	}
	for _, r := range c {
		if v, ok := r.Resolve(ref); ok {
			return v, true
		}
	}
	return "", false
}

// Static is a fixed map, used by tests and the seed CLI.
type Static map[string]string

func (s Static) Resolve(ref string) (string, bool) {
	v, ok := s[ref]
	return v, ok && v != ""
}

// Default builds the env-then-file chain used by the server.
func Default(secretDir string) Resolver {
	return Chain{NewEnvResolver(), &FileResolver{Dir: secretDir}}
}
