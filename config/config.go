// Package config loads the compilation settings shared by the ilower
// commands. Settings come from an optional YAML file layered over Default;
// command-line flags are applied on top by the caller.
package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/NERVsystems/infernode/tools/ilower/lower"
)

// Output formats.
const (
	FormatC  = "c"
	FormatIL = "il"
)

// Config is the on-disk configuration.
type Config struct {
	// Assembly names the output assembly. Empty means the main package name.
	Assembly string `yaml:"assembly"`
	// Format is FormatC or FormatIL.
	Format string `yaml:"format"`
	// Executable emits a program entry point calling Entry.
	Executable bool   `yaml:"executable"`
	Entry      string `yaml:"entry"`
	// Half is how f16 constants are built: convert, native or unsupported.
	Half  string `yaml:"half"`
	Debug bool   `yaml:"debug"`
}

var halfModes = map[string]lower.HalfMode{
	"convert":     lower.HalfConvert,
	"native":      lower.HalfNative,
	"unsupported": lower.HalfUnsupported,
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Format:     FormatC,
		Executable: true,
		Entry:      "main.main",
		Half:       "convert",
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return c, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != FormatC && c.Format != FormatIL {
		errs = append(errs, errors.Newf("unknown format %q (want %q or %q)", c.Format, FormatC, FormatIL))
	}
	if _, ok := halfModes[c.Half]; !ok {
		errs = append(errs, errors.Newf("unknown half mode %q", c.Half))
	}
	if c.Executable && c.Entry == "" {
		errs = append(errs, errors.New("executable output needs an entry symbol"))
	}
	return errors.Join(errs...)
}

// LowerOptions converts the settings into lowering options.
func (c *Config) LowerOptions() lower.Options {
	return lower.Options{Half: halfModes[c.Half]}
}
