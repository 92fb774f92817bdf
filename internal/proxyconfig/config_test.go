package proxyconfig

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDefaults(t *testing.T) {
	var out bytes.Buffer
	cfg := Parse(nil, &out)
	assert.Equal(t, DefaultListenPort, cfg.ListenPort)
	assert.Equal(t, DefaultServerHost, cfg.ServerHost)
	assert.Equal(t, DefaultServerPort, cfg.ServerPort)
	assert.Empty(t, out.String())
}

func TestParseOverrides(t *testing.T) {
	var out bytes.Buffer
	cfg := Parse([]string{"-p", "6000", "-sh", "db.internal", "-sp", "6543"}, &out)
	assert.Equal(t, 6000, cfg.ListenPort)
	assert.Equal(t, "db.internal", cfg.ServerHost)
	assert.Equal(t, 6543, cfg.ServerPort)
	assert.Empty(t, out.String())
}

func TestParseUnknownFlagFallsBackToDefaults(t *testing.T) {
	var out bytes.Buffer
	cfg := Parse([]string{"-bogus", "x"}, &out)
	assert.Equal(t, DefaultListenPort, cfg.ListenPort)
	assert.Equal(t, DefaultServerHost, cfg.ServerHost)
	assert.Equal(t, DefaultServerPort, cfg.ServerPort)
	assert.Contains(t, out.String(), Usage)
}

func TestParseOutOfRangePortFallsBackToDefaults(t *testing.T) {
	var out bytes.Buffer
	cfg := Parse([]string{"-p", "99999"}, &out)
	assert.Equal(t, DefaultListenPort, cfg.ListenPort)
	assert.Contains(t, out.String(), Usage)
}

func TestStringBanner(t *testing.T) {
	cfg := Config{ListenPort: 54321, ServerHost: "127.0.0.1", ServerPort: 5432}
	s := cfg.String()
	assert.Contains(t, s, "proxy listening port: 54321")
	assert.Contains(t, s, "postgres server host: 127.0.0.1")
	assert.Contains(t, s, "postgres server port: 5432")
}
