package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStringOrListSingleString(t *testing.T) {
	var s StringOrList
	require.NoError(t, yaml.Unmarshal([]byte(`proto/app.proto`), &s))
	assert.Equal(t, StringOrList{"proto/app.proto"}, s)
}

func TestStringOrListList(t *testing.T) {
	var s StringOrList
	require.NoError(t, yaml.Unmarshal([]byte("- a.proto\n- b.proto\n"), &s))
	assert.Equal(t, StringOrList{"a.proto", "b.proto"}, s)
}

func TestValidateRequiresAliasAndSocket(t *testing.T) {
	err := Validate(&Config{Servers: []ServerConfig{{Alias: ""}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alias is required")

	err = Validate(&Config{Servers: []ServerConfig{{Alias: "demo"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one socket")

	err = Validate(&Config{Servers: []ServerConfig{{Alias: "demo", Sockets: []SocketConfig{{Socket: ":9000"}}}}})
	assert.NoError(t, err)
}

func TestReflectionEnabledOrDefault(t *testing.T) {
	assert.True(t, ServerConfig{}.ReflectionEnabledOrDefault())
	f := false
	assert.False(t, ServerConfig{ReflectionEnabled: &f}.ReflectionEnabledOrDefault())
	tr := true
	assert.True(t, ServerConfig{ReflectionEnabled: &tr}.ReflectionEnabledOrDefault())
}

func TestValidMetadataKeyAndValue(t *testing.T) {
	assert.True(t, ValidMetadataKey("x-request-id"))
	assert.False(t, ValidMetadataKey("Has-Upper"))
	assert.False(t, ValidMetadataKey(""))
	assert.True(t, ValidMetadataValue(""))
	assert.False(t, ValidMetadataValue("anything goes here"))
}

func TestLoadParsesDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yml")
	doc := `
servers:
  - alias: demo
    sockets:
      - socket: "127.0.0.1:9000"
    proto_files: demo.proto
general_logging_config:
  console: true
  level: INFO
api_logging_config:
  console: true
  format: yaml
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "demo", cfg.Servers[0].Alias)
	assert.Equal(t, StringOrList{"demo.proto"}, cfg.Servers[0].ProtoFiles)
	assert.Equal(t, "127.0.0.1:9000", cfg.Servers[0].Sockets[0].Socket)
	assert.True(t, cfg.GeneralLoggingConfig.Console)
	assert.Equal(t, "yaml", cfg.APILoggingConfig.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
