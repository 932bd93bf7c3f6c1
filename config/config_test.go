package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReadConfigLightSender(t *testing.T) {
	path := writeConfig(t, `
mode: LIGHT_SENDER
test_session_hosts:
  - 127.0.0.1:862
source_ip_address: 0.0.0.0:0
`)
	c, err := ReadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ModeLightSender, c.Mode)
	require.Equal(t, []string{"127.0.0.1:862"}, c.TestSessionHosts)
}

func TestReadConfigRejectsBadMode(t *testing.T) {
	path := writeConfig(t, "mode: NOT_A_MODE\n")
	_, err := ReadConfig(path)
	require.Error(t, err)
}

func TestReadConfigSenderRequiresHosts(t *testing.T) {
	path := writeConfig(t, "mode: LIGHT_SENDER\n")
	_, err := ReadConfig(path)
	require.Error(t, err)
}

func TestReadConfigFullSenderRequiresControlHost(t *testing.T) {
	path := writeConfig(t, `
mode: FULL_SENDER
test_session_hosts:
  - 127.0.0.1:862
source_ip_address: 0.0.0.0:0
`)
	_, err := ReadConfig(path)
	require.Error(t, err)
}

func TestValidatePaddingOutOfRange(t *testing.T) {
	c := Defaults()
	c.Mode = ModeLightReflector
	c.SourceIPAddress = "0.0.0.0:0"
	c.Padding = 2000
	require.Error(t, c.Validate())
}
