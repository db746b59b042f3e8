// Package cliconfig implements the shared environment-variable fallback
// used by all three binaries' container entrypoints: every recognized
// variable name also has an `RWP_`-prefixed form that takes precedence.
package cliconfig

import (
	"fmt"
	"os"
	"strings"
)

// Env returns the value of the RWP_-prefixed form of name if set, else the
// plain name, else ok is false.
func Env(name string) (string, bool) {
	if v, ok := os.LookupEnv("RWP_" + name); ok && v != "" {
		return v, true
	}
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v, true
	}
	return "", false
}

// EnvOr returns Env(name) or def if unset.
func EnvOr(name, def string) string {
	if v, ok := Env(name); ok {
		return v
	}
	return def
}

// EnvBool reports whether the named variable is set to a recognized truthy
// value ("1", "true", "yes", case-insensitive).
func EnvBool(name string) bool {
	v, ok := Env(name)
	if !ok {
		return false
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// FirstFlagOrEnv returns flagValue if non-empty, else the resolved
// environment value, else def.
func FirstFlagOrEnv(flagValue, envName, def string) string {
	if flagValue != "" {
		return flagValue
	}
	return EnvOr(envName, def)
}

// ParseSessionAndServer resolves the lan/proxy positional arguments
// `<session-or-url> [server-url]`, per spec: a bare server URL may carry
// the session as its trailing path segment; otherwise the first arg is a
// plain session name and the server URL comes from the second arg or the
// environment.
func ParseSessionAndServer(args []string, envSessionName, envServerName string) (session, serverURL string, err error) {
	switch len(args) {
	case 0:
		session = EnvOr(envSessionName, "")
		serverURL = EnvOr(envServerName, "")
	case 1:
		if strings.Contains(args[0], "://") {
			serverURL = args[0]
			session = lastPathSegment(args[0])
			if session == "" {
				session = EnvOr(envSessionName, "")
			}
		} else {
			session = args[0]
			serverURL = EnvOr(envServerName, "")
		}
	default:
		session = args[0]
		serverURL = args[1]
	}

	if session == "" {
		return "", "", fmt.Errorf("cliconfig: no session name given")
	}
	if serverURL == "" {
		return "", "", fmt.Errorf("cliconfig: no server URL given")
	}
	return session, serverURL, nil
}

func lastPathSegment(rawURL string) string {
	idx := strings.Index(rawURL, "://")
	if idx < 0 {
		return ""
	}
	rest := rawURL[idx+3:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return ""
	}
	path := rest[slash+1:]
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return ""
}
