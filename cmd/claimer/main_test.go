package main

import (
	"net"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// claimerEnv configures a minimal valid setup from the environment and returns the
// data folder the credential store would create.
func claimerEnv(t *testing.T, port int) string {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("ENV", "TEST")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("EMAIL", "a@example.com")
	t.Setenv("OAUTH_CLIENT_ID", "client")
	t.Setenv("OAUTH_CLIENT_SECRET", "secret")
	t.Setenv("FOLDER", data)
	t.Setenv("CREDENTIAL_BACKEND", "file")
	t.Setenv("BROWSER_ENABLED", "false")
	t.Setenv("RUN_ON_STARTUP", "false")
	t.Setenv("PORT", strconv.Itoa(port))
	return data
}

func holdPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

func TestClaim_RunExitsWhenPortInUse(t *testing.T) {
	data := claimerEnv(t, holdPort(t))

	require.Equal(t, 1, claim([]string{"run"}))
	require.NoDirExists(t, data, "nothing is built before the listener binds")
}

func TestClaim_OnceExitsBeforeCycleWhenPortInUse(t *testing.T) {
	data := claimerEnv(t, holdPort(t))

	require.Equal(t, 1, claim([]string{"once"}))
	require.NoDirExists(t, data)
}

func TestClaim_Usage(t *testing.T) {
	claimerEnv(t, 0)

	require.Equal(t, 2, claim([]string{"bogus"}))
	require.Equal(t, 2, claim([]string{"clear"}))
}

func TestClaim_InvalidConfig(t *testing.T) {
	claimerEnv(t, 0)
	t.Setenv("EMAIL", "")

	require.Equal(t, 2, claim([]string{"once"}))
}

func TestClaim_Clear(t *testing.T) {
	data := claimerEnv(t, 0)

	require.Equal(t, 0, claim([]string{"clear", "a@example.com"}))
	require.DirExists(t, data)
}
