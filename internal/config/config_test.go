package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTemp(t, "socks_addr: 127.0.0.1\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultSocksPort, cfg.SocksPort)
	require.Equal(t, DefaultMgmtPort, cfg.MgmtPort)
	require.Equal(t, DefaultBufferSize, cfg.BufferSize)
	require.Equal(t, DefaultPoolSize, cfg.PoolSize)
}

func TestLoadRejectsSamePorts(t *testing.T) {
	path := writeTemp(t, "socks_port: 1080\nmgmt_port: 1080\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "must differ")
}

func TestLoadRejectsBadAddr(t *testing.T) {
	path := writeTemp(t, "socks_addr: not-an-ip\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "invalid IP")
}

func TestLoadRejectsDuplicateUser(t *testing.T) {
	path := writeTemp(t, "users:\n  - name: alice\n    password: a\n  - name: alice\n    password: b\n")
	_, err := Load(path)
	require.ErrorContains(t, err, "duplicate user")
}

func TestLoadRejectsTooManyUsers(t *testing.T) {
	var sb []byte
	sb = append(sb, "users:\n"...)
	for i := 0; i < 11; i++ {
		sb = append(sb, []byte("  - name: u\n    password: p\n")...)
	}
	path := writeTemp(t, string(sb))
	_, err := Load(path)
	require.ErrorContains(t, err, "too many users")
}

func TestCredentialsConversion(t *testing.T) {
	cfg := &Config{Users: []UserEntry{{Name: "alice", Password: "wonderland"}}}
	creds := cfg.Credentials()
	require.Len(t, creds, 1)
	require.Equal(t, "alice", creds[0].Name)
	require.Equal(t, "wonderland", creds[0].Password)
}

func TestParseUserArg(t *testing.T) {
	u, err := ParseUserArg("bob:secret")
	require.NoError(t, err)
	require.Equal(t, "bob", u.Name)
	require.Equal(t, "secret", u.Password)

	_, err = ParseUserArg("no-colon")
	require.Error(t, err)
}
