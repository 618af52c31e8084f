package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roiloc/pkg/location"
	"roiloc/pkg/registration"
	"roiloc/pkg/roierr"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Assets = "/opt/roiloc"
	cfg.Contrast = "t1"
	return cfg
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, location.Vec3{8, 8, 8}, cfg.MarginVec())
	assert.Equal(t, location.Vec3{}, cfg.LeftOffsetVec())
	assert.Equal(t, registration.AffineFast, cfg.TransformKind())
	assert.Equal(t, []string{"Hippocampus"}, cfg.Roi)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"no assets", func(c *Config) { c.Assets = "" }},
		{"contrast", func(c *Config) { c.Contrast = "flair" }},
		{"no contrast", func(c *Config) { c.Contrast = "" }},
		{"transform", func(c *Config) { c.Transform = "Bogus" }},
		{"no roi", func(c *Config) { c.Roi = nil }},
		{"short margin", func(c *Config) { c.Margin = []int{1, 2} }},
		{"negative margin", func(c *Config) { c.Margin = []int{1, -2, 3} }},
		{"offset", func(c *Config) { c.RightOffset = []int{1, 2, 3, 4} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), roierr.ErrConfiguration)
		})
	}
}

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "roiloc.yaml")
	cfg := validConfig()
	cfg.Contrast = "t2"
	cfg.Roi = []string{"Hippocampus", "Amygdala"}
	cfg.Log.Logfile = "/tmp/roiloc.log"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestCreateDefaultConfigFileKeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roiloc.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	assert.Error(t, CreateDefaultConfigFile(path))
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("margin: [1, 2\n"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("roiloc", pflag.ContinueOnError)
	flags.String("contrast", "", "")
	flags.String("transform", "AffineFast", "")
	flags.IntSlice("margin", []int{8, 8, 8}, "")
	flags.Bool("savesteps", false, "")
	flags.String("log-file", "", "")
	flags.String("config", "", "")
	return flags
}

func TestPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roiloc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"assets: /data/assets\ncontrast: t2\ntransform: Rigid\nsavesteps: true\n"), 0644))
	t.Setenv("ROILOC_TRANSFORM", "SyN")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--margin", "4,4,2", "--log-file", "/tmp/run.log"}))

	v, err := NewViper(flags, path)
	require.NoError(t, err)
	cfg, err := FromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "/data/assets", cfg.Assets)
	assert.Equal(t, "t2", cfg.Contrast)   // file over flag default
	assert.Equal(t, "SyN", cfg.Transform) // env over file
	assert.True(t, cfg.SaveSteps)
	assert.Equal(t, []int{4, 4, 2}, cfg.Margin) // flag over default
	assert.Equal(t, "/tmp/run.log", cfg.Log.Logfile)
	assert.Equal(t, 100, cfg.Log.MaxSize)
	require.NoError(t, cfg.Validate())
}

func TestFlagOverridesEnv(t *testing.T) {
	t.Setenv("ROILOC_CONTRAST", "t2")
	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--contrast", "t1"}))

	v, err := NewViper(flags, "")
	require.NoError(t, err)
	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "t1", cfg.Contrast)
}

func TestNewViperMissingFile(t *testing.T) {
	v, err := NewViper(nil, filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hippocampus"}, cfg.Roi)
}
