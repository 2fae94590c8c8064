package applog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DmitroKihtenko/cap-grpc/internal/config"
)

func TestTextFormatterDefaultLine(t *testing.T) {
	f := TextFormatter{}
	out := f.Format(Record{
		Service: "demo.Greeter", Method: "SayHello", Alias: "a1",
		RequestMessage: map[string]any{"name": "Ada"}, Timestamp: "2026-01-01T00:00:00Z",
		Code: "16: UNAUTHENTICATED",
	})
	assert.Contains(t, out, "demo.Greeter.SayHello")
	assert.Contains(t, out, "code=16: UNAUTHENTICATED")
}

func TestTextFormatterCustomLine(t *testing.T) {
	f := TextFormatter{FormatLine: "{service}/{method}: {request_message} => {response_message}"}
	out := f.Format(Record{Service: "s", Method: "m", RequestMessage: "req", ResponseMessage: "resp"})
	assert.Equal(t, "s/m: req => resp", out)
}

func TestYAMLFormatterRoundTrips(t *testing.T) {
	f := YAMLFormatter{}
	out := f.Format(Record{Service: "s", Method: "m", Timestamp: "now"})
	assert.Contains(t, out, "service: s")
	assert.Contains(t, out, "method: m")
}

func TestProcessorLoggerIsMemoized(t *testing.T) {
	p, err := NewProcessor(config.LoggingConfig{})
	require.NoError(t, err)

	first := p.Logger("demo.Greeter", "SayHello")
	second := p.Logger("demo.Greeter", "SayHello")
	assert.Same(t, first, second)

	other := p.Logger("demo.Greeter", "SayGoodbye")
	assert.NotSame(t, first, other)
}

func TestProcessorEmitWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "api.log")

	p, err := NewProcessor(config.LoggingConfig{Files: []string{path}, Format: "text", Level: "INFO"})
	require.NoError(t, err)

	p.Emit("demo.Greeter", "SayHello", Record{Service: "demo.Greeter", Method: "SayHello"})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "demo.Greeter.SayHello")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, parseLevel("INFO"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARNING"))
	assert.Equal(t, zerolog.FatalLevel, parseLevel("CRITICAL"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("garbage"))
}
