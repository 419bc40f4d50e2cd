package memolock

import "fmt"

// ConfigError reports an invalid Spec: both or neither of KeyExpression and
// KeyGenerator set, a blank cache name, a negative lock wait, or a generator
// name with no registration. It is raised before any cache or lock
// interaction and is never retried.
type ConfigError struct {
	CacheName string
	Reason    string
}

func (e *ConfigError) Error() string {
	if e.CacheName == "" {
		return "memolock: invalid spec: " + e.Reason
	}
	return fmt.Sprintf("memolock: invalid spec for cache %q: %s", e.CacheName, e.Reason)
}

func configErr(cache, format string, args ...any) *ConfigError {
	return &ConfigError{CacheName: cache, Reason: fmt.Sprintf(format, args...)}
}
