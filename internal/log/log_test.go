package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, m Mode) *bytes.Buffer {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	SetMode(m)
	t.Cleanup(func() {
		SetOutput(prev)
		SetMode(InfoMode)
	})
	return &buf
}

func TestModes(t *testing.T) {
	tests := []struct {
		mode  Mode
		shown []string
		gone  []string
	}{
		{DebugMode, []string{"dbg", "inf", "warn", "err"}, nil},
		{InfoMode, []string{"inf", "warn", "err"}, []string{"dbg"}},
		{ErrorMode, []string{"warn", "err"}, []string{"dbg", "inf"}},
		{SilentMode, nil, []string{"dbg", "inf", "warn", "err"}},
	}
	for _, tt := range tests {
		buf := capture(t, tt.mode)
		Debugf("dbg")
		Infof("inf")
		Warningf("warn")
		Errorf("err")
		for _, s := range tt.shown {
			assert.Contains(t, buf.String(), s, "mode %d", tt.mode)
		}
		for _, s := range tt.gone {
			assert.NotContains(t, buf.String(), s, "mode %d", tt.mode)
		}
	}
}

func TestPrefixes(t *testing.T) {
	buf := capture(t, InfoMode)
	Warningf("no mask found")
	Errorf("subject %d failed", 3)
	assert.Contains(t, buf.String(), "Warning: no mask found")
	assert.Contains(t, buf.String(), "Error: subject 3 failed")
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("debug")
	require.NoError(t, err)
	assert.Equal(t, DebugMode, m)
	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, InfoMode, m)
	_, err = ParseMode("loud")
	assert.Error(t, err)
}

func TestLogFile(t *testing.T) {
	capture(t, SilentMode)
	path := filepath.Join(t.TempDir(), "roiloc.log")
	cfg := &LogConfig{Logfile: path, MaxSize: 1, MaxAge: 1}
	cleanup := cfg.SetLogger()
	Infof("processing %s", "sub01")
	Warningf("empty crop")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "INFO processing sub01")
	assert.Contains(t, string(data), "WARNING Warning: empty crop")

	var none *LogConfig
	none.SetLogger()()
}
