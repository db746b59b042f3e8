package cliconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvPrefixPrecedence(t *testing.T) {
	os.Setenv("WSTUNNEL_TEST_VAR", "plain")
	os.Setenv("RWP_WSTUNNEL_TEST_VAR", "prefixed")
	defer os.Unsetenv("WSTUNNEL_TEST_VAR")
	defer os.Unsetenv("RWP_WSTUNNEL_TEST_VAR")

	v, ok := Env("WSTUNNEL_TEST_VAR")
	require.True(t, ok)
	require.Equal(t, "prefixed", v)
}

func TestParseSessionAndServerTwoArgs(t *testing.T) {
	session, server, err := ParseSessionAndServer([]string{"mysession", "http://relay:8080"}, "SESSION", "SERVER")
	require.NoError(t, err)
	require.Equal(t, "mysession", session)
	require.Equal(t, "http://relay:8080", server)
}

func TestParseSessionAndServerURLWithTrailingSegment(t *testing.T) {
	session, server, err := ParseSessionAndServer([]string{"http://relay:8080/mysession"}, "SESSION", "SERVER")
	require.NoError(t, err)
	require.Equal(t, "mysession", session)
	require.Equal(t, "http://relay:8080/mysession", server)
}

func TestParseSessionAndServerMissingFails(t *testing.T) {
	_, _, err := ParseSessionAndServer(nil, "NOPE_SESSION", "NOPE_SERVER")
	require.Error(t, err)
}
