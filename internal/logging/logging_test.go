package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, hclog.Debug, ParseLevel("debug"))
	assert.Equal(t, hclog.Warn, ParseLevel("WARN"))
	assert.Equal(t, hclog.Error, ParseLevel("error"))
	assert.Equal(t, hclog.Info, ParseLevel(""))
	assert.Equal(t, hclog.Info, ParseLevel("bogus"))
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "mucd.log")

	l, err := New("mucd", Config{Level: "debug", File: path})
	require.NoError(t, err)

	l.Named("presence").Info("room created", "room", "room@muc.example.com")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.Contains(out, "mucd.presence"), out)
	assert.True(t, strings.Contains(out, "room=room@muc.example.com"), out)
}

func TestDefaultLoggerIsSilentBeforeInit(t *testing.T) {
	assert.NotNil(t, Default())
	Info("nothing happens")
}
