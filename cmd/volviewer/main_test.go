package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/volstream/av"
)

func parse(t *testing.T, args ...string) (*CLIConfig, map[string]bool) {
	t.Helper()
	fs := flag.NewFlagSet("volviewer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	config, set, err := parseCLIFlags(fs, args)
	require.NoError(t, err)
	return config, set
}

func TestParseCLIFlags(t *testing.T) {
	config, set := parse(t, "-sender", "10.0.0.1:1", "-sender", "10.0.0.2:2", "-metrics", ":9100")

	assert.Equal(t, senderList{"10.0.0.1:1", "10.0.0.2:2"}, config.senders)
	assert.Equal(t, ":9100", config.metricsAddress)
	assert.Equal(t, ":0", config.listenAddress)
	assert.True(t, set["sender"])
	assert.False(t, set["listen"])
}

func TestBuildOptions(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		errContains string
	}{
		{name: "single sender", args: []string{"-sender", "127.0.0.1:47498"}},
		{name: "no sender", args: nil, wantErr: true, errContains: "at least one sender"},
		{name: "sender without port", args: []string{"-sender", "localhost"}, wantErr: true, errContains: "expected host:port"},
		{name: "bad log level", args: []string{"-sender", "127.0.0.1:1", "-log-level", "loud"}, wantErr: true, errContains: "invalid log level"},
		{name: "bad log format", args: []string{"-sender", "127.0.0.1:1", "-log-format", "xml"}, wantErr: true, errContains: "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, set := parse(t, tt.args...)
			options, err := buildOptions(config, set)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string(config.senders), options.Senders)
		})
	}
}

func TestBuildOptions_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volviewer.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_address = "127.0.0.1:9000"
senders = ["10.0.0.1:47498"]
log_level = "warn"
`), 0o600))

	config, set := parse(t, "-config", path, "-log-level", "debug")
	options, err := buildOptions(config, set)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", options.ListenAddress)
	assert.Equal(t, []string{"10.0.0.1:47498"}, options.Senders)
	assert.Equal(t, "debug", options.LogLevel)
}

func TestFrameLogger(t *testing.T) {
	renderer := &frameLogger{}
	renderer.Render(&av.DecodedFrame{FrameID: 1})
	renderer.Render(&av.DecodedFrame{FrameID: 2})
	assert.Equal(t, uint64(2), renderer.frames.Load())
}
