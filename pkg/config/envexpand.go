package config

import (
	"fmt"
	"os"
)

// ExpandEnv expands ${VAR} / $VAR references in raw TOML bytes using Go's standard
// shell-style expansion, before the document is decoded. Missing variables expand to
// the empty string; validation is responsible for catching fields that end up empty.
func ExpandEnv(data []byte) []byte {
	return []byte(os.ExpandEnv(string(data)))
}

// resolveSecret resolves a `*_env` indirection: if envVar is set, its value is looked up
// in the environment and returned; a missing env var is an error rather than a silent
// empty string, since a secret masquerading as "unset" is worse than a hard failure at
// boot. An empty envVar name means "no secret configured" and resolves to "".
func resolveSecret(envVar string) (string, error) {
	if envVar == "" {
		return "", nil
	}
	v, ok := os.LookupEnv(envVar)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingRequiredField, envVar)
	}
	return v, nil
}
