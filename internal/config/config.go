// Package config loads the YAML configuration of the speedprobe command.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/m-lab/speedprobe-go"
)

// ErrInvalid is wrapped by all the validation errors.
var ErrInvalid = errors.New("invalid configuration")

// Duration is a time.Duration read either from a Go duration string
// such as "1500ms" or from a number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Size is a number of bytes read either from an integer or from a
// human readable string such as "10MiB" or "1 MB".
type Size int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("size must be a scalar")
	}
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return err
		}
		*s = Size(n)
		return nil
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return err
	}
	*s = Size(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (interface{}, error) {
	return humanize.IBytes(uint64(s)), nil
}

// EndpointsConfig contains the measurement endpoint URLs.
type EndpointsConfig struct {
	Ping     string `yaml:"ping"`
	Download string `yaml:"download"`
	Upload   string `yaml:"upload"`
}

// PingConfig configures the latency phase.
type PingConfig struct {
	Count           int      `yaml:"count"`
	Timeout         Duration `yaml:"timeout"`
	ExcludeFailures bool     `yaml:"exclude_failures"`
}

// DownloadConfig configures the download phase.
type DownloadConfig struct {
	Budget     Duration `yaml:"budget"`
	Bytes      Size     `yaml:"bytes"`
	StallGrace Duration `yaml:"stall_grace"`
}

// UploadConfig configures the upload phase.
type UploadConfig struct {
	Budget    Duration `yaml:"budget"`
	ChunkSize Size     `yaml:"chunk_size"`
	MaxChunks int      `yaml:"max_chunks"`
}

// Config is the configuration of a probe run.
type Config struct {
	Endpoints EndpointsConfig `yaml:"endpoints"`

	// LocateURL, when set, is the URL of the locate service used
	// instead of Endpoints.
	LocateURL string `yaml:"locate_url"`

	// ReferenceMbps is the provisioned download capacity. Zero
	// disables grading.
	ReferenceMbps float64 `yaml:"reference_mbps"`

	Ping     PingConfig     `yaml:"ping"`
	Download DownloadConfig `yaml:"download"`
	Upload   UploadConfig   `yaml:"upload"`
}

// Default returns the configuration matching the defaults of
// speedprobe.NewProbe.
func Default() Config {
	p := speedprobe.NewProbe()
	return Config{
		Endpoints: EndpointsConfig{
			Ping:     p.Endpoints.Ping,
			Download: p.Endpoints.Download,
			Upload:   p.Endpoints.Upload,
		},
		Ping: PingConfig{
			Count:   p.PingCount,
			Timeout: Duration(p.PingTimeout),
		},
		Download: DownloadConfig{
			Budget:     Duration(p.DownloadBudget),
			Bytes:      Size(p.DownloadBytes),
			StallGrace: Duration(p.DownloadStallGrace),
		},
		Upload: UploadConfig{
			Budget:    Duration(p.UploadBudget),
			ChunkSize: Size(p.UploadChunkSize),
			MaxChunks: p.UploadMaxChunks,
		},
	}
}

// Load reads the file at path. Settings missing from the file keep
// their default value.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(raw)
}

// Parse is like Load but reads the configuration from raw.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.LocateURL != "" {
		if err := checkURL("locate_url", c.LocateURL); err != nil {
			return err
		}
	} else {
		for name, value := range map[string]string{
			"endpoints.ping":     c.Endpoints.Ping,
			"endpoints.download": c.Endpoints.Download,
			"endpoints.upload":   c.Endpoints.Upload,
		} {
			if err := checkURL(name, value); err != nil {
				return err
			}
		}
	}
	switch {
	case c.ReferenceMbps < 0:
		return fmt.Errorf("%w: reference_mbps must be >= 0", ErrInvalid)
	case c.Ping.Count <= 0:
		return fmt.Errorf("%w: ping.count must be > 0", ErrInvalid)
	case c.Ping.Timeout.Duration() < 0:
		return fmt.Errorf("%w: ping.timeout must be >= 0", ErrInvalid)
	case c.Download.Budget.Duration() <= 0 || c.Upload.Budget.Duration() <= 0:
		return fmt.Errorf("%w: download.budget and upload.budget must be > 0", ErrInvalid)
	case c.Download.StallGrace.Duration() < 0:
		return fmt.Errorf("%w: download.stall_grace must be >= 0", ErrInvalid)
	case c.Download.Bytes <= 0 || c.Upload.ChunkSize <= 0:
		return fmt.Errorf("%w: download.bytes and upload.chunk_size must be > 0", ErrInvalid)
	case c.Upload.MaxChunks <= 0:
		return fmt.Errorf("%w: upload.max_chunks must be > 0", ErrInvalid)
	}
	return nil
}

func checkURL(name, value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrInvalid, name, err.Error())
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s must be an absolute http(s) URL", ErrInvalid, name)
	}
	return nil
}

// Apply copies the configuration into p. The locator is left alone
// because it depends on the identity of the caller.
func (c *Config) Apply(p *speedprobe.Probe) {
	p.Endpoints = speedprobe.Endpoints{
		Ping:     c.Endpoints.Ping,
		Download: c.Endpoints.Download,
		Upload:   c.Endpoints.Upload,
	}
	p.ReferenceCapacityMbps = c.ReferenceMbps
	p.PingCount = c.Ping.Count
	p.PingTimeout = c.Ping.Timeout.Duration()
	p.ExcludeFailedPings = c.Ping.ExcludeFailures
	p.DownloadBudget = c.Download.Budget.Duration()
	p.DownloadBytes = int64(c.Download.Bytes)
	p.DownloadStallGrace = c.Download.StallGrace.Duration()
	p.UploadBudget = c.Upload.Budget.Duration()
	p.UploadChunkSize = int(c.Upload.ChunkSize)
	p.UploadMaxChunks = c.Upload.MaxChunks
}
