package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	DriverSane = "sane"
	DriverDir  = "dir"

	FormatPNG  = "png"
	FormatTIFF = "tiff"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version int     `json:"version" yaml:"version"` // fixed 0 for now
	Service Service `json:"service" yaml:"service"`
	Store   Store   `json:"store" yaml:"store"`
	Device  Device  `json:"device" yaml:"device"`
	Encoder Encoder `json:"encoder" yaml:"encoder"`
	Scan    Scan    `json:"scan" yaml:"scan"`
}

// Service configures the HTTP daemon.
type Service struct {
	Listen      string   `json:"listen" yaml:"listen"`
	Verbose     bool     `json:"verbose" yaml:"verbose"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`
}

// Store is the scan output directory.
type Store struct {
	Dir     string `json:"dir" yaml:"dir"`
	KeepRaw bool   `json:"keep_raw" yaml:"keep_raw"` // keep scan_temp_*.bmp after encoding
}

// Device selects and tunes the scanner driver.
type Device struct {
	Driver     string `json:"driver" yaml:"driver"`                             // "sane" | "dir"
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`             // empty => first device found
	Source     string `json:"source,omitempty" yaml:"source,omitempty"`         // e.g. Flatbed, ADF
	Binary     string `json:"binary" yaml:"binary"`                             // scanimage binary
	Format     string `json:"format" yaml:"format"`                             // transfer format
	Resolution int    `json:"resolution,omitempty" yaml:"resolution,omitempty"` // dpi
	Mode       string `json:"mode,omitempty" yaml:"mode,omitempty"`             // Color, Gray, Lineart
	Dir        string `json:"dir,omitempty" yaml:"dir,omitempty"`               // inbox of the dir driver
}

type Encoder struct {
	Quality  int `json:"quality" yaml:"quality"`
	MaxWidth int `json:"max_width,omitempty" yaml:"max_width,omitempty"`
}

type Scan struct {
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// TimeoutDuration returns zero when no timeout is configured.
func (s Scan) TimeoutDuration() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parsing scan.timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("scan.timeout must not be negative: %s", s.Timeout)
	}
	return d, nil
}

// DefaultConfig is used when no config file exists yet.
func DefaultConfig(_ context.Context) Config {
	return Config{
		Version: 0,
		Service: Service{
			Listen:      "127.0.0.1:5001",
			CORSOrigins: []string{"*"},
		},
		Store: Store{
			Dir: "scans",
		},
		Device: Device{
			Driver: DriverSane,
			Binary: "scanimage",
			Format: FormatPNG,
		},
		Encoder: Encoder{
			Quality: 90,
		},
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}

	if err := out.validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// validate covers the rules the schema does not express.
func (c Config) validate() error {
	var errs []error
	if c.Device.Driver == DriverDir && c.Device.Dir == "" {
		errs = append(errs, errors.New("device.dir is required for the dir driver"))
	}
	if _, err := c.Scan.TimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
