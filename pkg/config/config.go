// Package config provides configuration loading and management for roiloc.
// Values come from a YAML file and can be overridden by ROILOC_* environment
// variables and command line flags, in that order of increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"roiloc/internal/log"
	"roiloc/pkg/location"
	"roiloc/pkg/registration"
	"roiloc/pkg/roierr"
	"roiloc/pkg/template"
)

// EnvPrefix prefixes the environment variables read by roiloc.
const EnvPrefix = "ROILOC"

// Config represents the application configuration. Keys match the command
// line flag names.
type Config struct {
	// Assets is the directory holding the MNI templates and the CerebrA
	// atlas.
	Assets string `yaml:"assets" mapstructure:"assets"`

	// Contrast of the input images, t1 or t2. There is no default.
	Contrast string `yaml:"contrast" mapstructure:"contrast"`

	// Bet selects the skull-stripped template
	Bet bool `yaml:"bet" mapstructure:"bet"`

	// Transform is the registration recipe
	Transform string `yaml:"transform" mapstructure:"transform"`

	// Roi lists the CerebrA region names to extract
	Roi []string `yaml:"roi" mapstructure:"roi"`

	// Margin widens every box, in voxels per axis
	Margin []int `yaml:"margin" mapstructure:"margin"`

	// RightOffset and LeftOffset shift the boxes of each side
	RightOffset []int `yaml:"rightoffset" mapstructure:"rightoffset"`
	LeftOffset  []int `yaml:"leftoffset" mapstructure:"leftoffset"`

	// Mask is a pattern for a brain mask next to each image
	Mask string `yaml:"mask" mapstructure:"mask"`

	// ExtraCrops are patterns of other files cropped like the input
	ExtraCrops []string `yaml:"extracrops,omitempty" mapstructure:"extracrops"`

	// Threads is handed to the registration toolkit
	Threads int `yaml:"threads" mapstructure:"threads"`

	// SaveSteps keeps the intermediate files
	SaveSteps bool `yaml:"savesteps" mapstructure:"savesteps"`

	// Preview writes PNG previews of the crops
	Preview bool `yaml:"preview" mapstructure:"preview"`

	// Verbose prints debug messages
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`

	Log log.LogConfig `yaml:"log" mapstructure:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Assets:      os.Getenv(EnvPrefix + "_ASSETS"),
		Transform:   string(registration.AffineFast),
		Roi:         []string{"Hippocampus"},
		Margin:      []int{8, 8, 8},
		RightOffset: []int{0, 0, 0},
		LeftOffset:  []int{0, 0, 0},
		Threads:     runtime.NumCPU(),
		Log: log.LogConfig{
			MaxSize: 100,
			MaxAge:  30,
		},
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path. An existing file is left untouched.
func CreateDefaultConfigFile(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file %s already exists", configPath)
	}
	return SaveConfig(DefaultConfig(), configPath)
}

// flagKeys maps flag names to configuration keys where they differ.
var flagKeys = map[string]string{
	"log-file": "log.logfile",
}

func defaults() map[string]interface{} {
	def := DefaultConfig()
	return map[string]interface{}{
		"assets":      def.Assets,
		"contrast":    def.Contrast,
		"bet":         def.Bet,
		"transform":   def.Transform,
		"roi":         def.Roi,
		"margin":      def.Margin,
		"rightoffset": def.RightOffset,
		"leftoffset":  def.LeftOffset,
		"mask":        def.Mask,
		"extracrops":  def.ExtraCrops,
		"threads":     def.Threads,
		"savesteps":   def.SaveSteps,
		"preview":     def.Preview,
		"verbose":     def.Verbose,
		"log.logfile": def.Log.Logfile,
		"log.maxsize": def.Log.MaxSize,
		"log.maxage":  def.Log.MaxAge,
	}
}

// NewViper returns a viper instance resolving every key of Config from, in
// order of priority: the flags that were set, ROILOC_* environment
// variables, the YAML file at configPath (optional) and DefaultConfig.
// Flags that name no key are ignored.
func NewViper(flags *pflag.FlagSet, configPath string) (*viper.Viper, error) {
	v := viper.New()
	keys := defaults()
	for k, d := range keys {
		v.SetDefault(k, d)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, roierr.Configuration("config", "reading %s: %v", configPath, err)
		}
	}

	if flags == nil {
		return v, nil
	}
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			if _, known := keys[f.Name]; !known {
				return
			}
			key = f.Name
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil && err == nil {
			err = bindErr
		}
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// FromViper decodes the resolved configuration.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, roierr.Configuration("config", "decoding configuration: %v", err)
	}
	return cfg, nil
}

// Validate checks every value that does not depend on the input files.
func (c *Config) Validate() error {
	if c.Assets == "" {
		return roierr.Configuration("config", "no asset directory: use --assets or %s_ASSETS", EnvPrefix)
	}
	if err := template.ValidateContrast(c.Contrast); err != nil {
		return err
	}
	if _, err := registration.ParseTransformKind(c.Transform); err != nil {
		return roierr.Configuration("config", "%v (available: %v)", err, registration.TransformKinds())
	}
	if len(c.Roi) == 0 {
		return roierr.Configuration("config", "no ROI given")
	}
	margin, err := vec3("margin", c.Margin)
	if err != nil {
		return err
	}
	for _, m := range margin {
		if m < 0 {
			return roierr.Configuration("config", "margin %v must not be negative", c.Margin)
		}
	}
	if _, err := vec3("rightoffset", c.RightOffset); err != nil {
		return err
	}
	if _, err := vec3("leftoffset", c.LeftOffset); err != nil {
		return err
	}
	return nil
}

func vec3(name string, v []int) (location.Vec3, error) {
	var out location.Vec3
	if len(v) != 3 {
		return out, roierr.Configuration("config", "%s needs 3 values, got %v", name, v)
	}
	copy(out[:], v)
	return out, nil
}

// MarginVec returns the margin; Validate must have succeeded.
func (c *Config) MarginVec() location.Vec3 {
	v, _ := vec3("margin", c.Margin)
	return v
}

// RightOffsetVec returns the right offset; Validate must have succeeded.
func (c *Config) RightOffsetVec() location.Vec3 {
	v, _ := vec3("rightoffset", c.RightOffset)
	return v
}

// LeftOffsetVec returns the left offset; Validate must have succeeded.
func (c *Config) LeftOffsetVec() location.Vec3 {
	v, _ := vec3("leftoffset", c.LeftOffset)
	return v
}

// TransformKind returns the parsed transform; Validate must have succeeded.
func (c *Config) TransformKind() registration.TransformKind {
	k, _ := registration.ParseTransformKind(c.Transform)
	return k
}
