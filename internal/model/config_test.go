package model_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/scand/internal/model"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadConfig(t *testing.T) {
	yml := `
version: 0
service:
  listen: 127.0.0.1:8080
  verbose: true
  cors_origins:
    - http://localhost:5173
store:
  dir: /var/lib/scand
  keep_raw: true
device:
  driver: sane
  name: "epson2:libusb:001:004"
  source: ADF
  resolution: 300
  mode: Gray
encoder:
  quality: 75
  max_width: 1024
scan:
  timeout: 2m30s
`
	cfg, err := model.LoadConfig(strings.NewReader(yml))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Equal(t, "127.0.0.1:8080", cfg.Service.Listen)
	require.True(t, cfg.Service.Verbose)
	require.Equal(t, []string{"http://localhost:5173"}, cfg.Service.CORSOrigins)
	require.Equal(t, "/var/lib/scand", cfg.Store.Dir)
	require.True(t, cfg.Store.KeepRaw)
	require.Equal(t, model.DriverSane, cfg.Device.Driver)
	require.Equal(t, "epson2:libusb:001:004", cfg.Device.Name)
	require.Equal(t, "ADF", cfg.Device.Source)
	require.Equal(t, "scanimage", cfg.Device.Binary)
	require.Equal(t, model.FormatPNG, cfg.Device.Format)
	require.Equal(t, 300, cfg.Device.Resolution)
	require.Equal(t, "Gray", cfg.Device.Mode)
	require.Equal(t, 75, cfg.Encoder.Quality)
	require.Equal(t, 1024, cfg.Encoder.MaxWidth)

	timeout, err := cfg.Scan.TimeoutDuration()
	require.NoError(t, err)
	require.Equal(t, 150*time.Second, timeout)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := model.LoadConfig(strings.NewReader("version: 0\n"))
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(t.Context()), *cfg)

	timeout, err := cfg.Scan.TimeoutDuration()
	require.NoError(t, err)
	require.Zero(t, timeout)
}

func TestLoadConfig_DefaultRoundTrip(t *testing.T) {
	// the default config is written to disk on the first start
	var buf bytes.Buffer
	require.NoError(t, yaml.NewEncoder(&buf).Encode(model.DefaultConfig(t.Context())))
	cfg, err := model.LoadConfig(&buf)
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(t.Context()), *cfg)
}

func TestLoadConfig_Fail(t *testing.T) {
	var testCases = []struct {
		name     string
		yml      string
		contains string
	}{
		{
			name: "unknown driver",
			yml: `
version: 0
device:
  driver: twain
`,
			contains: "device.driver",
		},
		{
			name: "unknown field",
			yml: `
version: 0
service:
  port: 5001
`,
			contains: "port",
		},
		{
			name: "quality out of range",
			yml: `
version: 0
encoder:
  quality: 101
`,
			contains: "encoder.quality",
		},
		{
			name: "bad timeout",
			yml: `
version: 0
scan:
  timeout: soon
`,
			contains: "scan.timeout",
		},
		{
			name: "dir driver without dir",
			yml: `
version: 0
device:
  driver: dir
`,
			contains: "device.dir is required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := model.LoadConfig(strings.NewReader(tc.yml))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.contains)
			require.NotEmpty(t, model.CueErrDetails(err))
		})
	}
}

func TestCueErrDetails_Driver(t *testing.T) {
	yml := `
version: 0
device:
  driver: twain
`
	_, err := model.LoadConfig(strings.NewReader(yml))
	require.Error(t, err)

	details := model.CueErrDetails(err)
	require.NotEmpty(t, details)
	var found bool
	for _, d := range details {
		if d.Path == "device.driver" {
			found = true
			require.Contains(t, d.Message, "possible values")
			require.Contains(t, d.Message, "sane")
			require.Contains(t, d.Message, "dir")
		}
	}
	require.True(t, found, "details: %+v", details)
}
