package qrelay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qrelay.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigAppliesRecognizedKeys(t *testing.T) {
	path := writeTempConfig(t, `
# server settings
ServerPort=9443
ServerCertFilePath=/etc/qrelay/cert.pem
ServerKeyFilePath=/etc/qrelay/key.pem
ServerMaxClientCount=2048
ServerConnectionTimeoutS=30

MySQLAddress=db.internal
MySQLPort=3306
MySQLUser=relay
MySQLPassword=secret
MySQLDatabase=relaydb
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9443, cfg.ServerPort)
	assert.Equal(t, "/etc/qrelay/cert.pem", cfg.ServerCertFilePath)
	assert.Equal(t, "/etc/qrelay/key.pem", cfg.ServerKeyFilePath)
	assert.Equal(t, 2048, cfg.ServerMaxClientCount)
	assert.Equal(t, 30, cfg.ServerConnectionTimeoutS)
	assert.Equal(t, "db.internal", cfg.MySQLAddress)
	assert.Equal(t, 3306, cfg.MySQLPort)
	assert.Equal(t, "relay", cfg.MySQLUser)
	assert.Equal(t, "secret", cfg.MySQLPassword)
	assert.Equal(t, "relaydb", cfg.MySQLDatabase)
}

func TestLoadConfigAppliesDefaultsForOmittedKeys(t *testing.T) {
	path := writeTempConfig(t, `ServerPort=1234`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 1234, cfg.ServerPort)
	assert.Equal(t, 1024, cfg.ServerMaxClientCount)
	assert.Equal(t, 60, cfg.ServerConnectionTimeoutS)
	assert.Equal(t, 33060, cfg.MySQLPort)
}

func TestLoadConfigIgnoresUnrecognizedKeys(t *testing.T) {
	path := writeTempConfig(t, "SomeFutureKey=value\nServerPort=1\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ServerPort)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	assert.Error(t, err)
}

func TestStoreConfigProjection(t *testing.T) {
	cfg := Config{MySQLAddress: "h", MySQLPort: 1, MySQLUser: "u", MySQLPassword: "p", MySQLDatabase: "d"}
	sc := cfg.StoreConfig()
	assert.Equal(t, StoreConfig{Address: "h", Port: 1, User: "u", Password: "p", Database: "d"}, sc)
}
