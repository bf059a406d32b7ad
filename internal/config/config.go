// Package config loads gateway.yaml, the single configuration file
// governing everything server.Run wires together, using goccy/go-yaml
// and extended with the subgraph routing fields a purely SDL-file-based
// setup never needed.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/n9te9/federation-gateway/federation/router"
)

// Service describes one statically-configured subgraph: its name, its
// routing descriptor, and (optionally) local SDL files used only to
// seed the route table before the first live refresh succeeds.
type Service struct {
	Name          string   `yaml:"name"`
	Address       string   `yaml:"address"`
	TLS           bool     `yaml:"tls"`
	QueryPath     string   `yaml:"query_path" default:"/query"`
	SubscribePath string   `yaml:"subscribe_path" default:"/subscribe"`
	SchemaFiles   []string `yaml:"schema_files"`
}

func (s Service) Descriptor() router.Descriptor {
	return router.Descriptor{
		Name:          s.Name,
		Address:       s.Address,
		TLS:           s.TLS,
		QueryPath:     s.QueryPath,
		SubscribePath: s.SubscribePath,
	}
}

type OpentelemetryTracingSetting struct {
	Enable bool `yaml:"enable" default:"false"`
}

type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

// RetrySetting governs subgraph SDL fetch retries; see
// router.RetryOption for how it's applied.
type RetrySetting struct {
	Attempts int           `yaml:"attempts" default:"3"`
	Timeout  time.Duration `yaml:"timeout" default:"5s"`
}

// GatewayOption is the root of gateway.yaml.
type GatewayOption struct {
	Endpoint                    string               `yaml:"endpoint" default:"/graphql"`
	ServiceName                 string               `yaml:"service_name"`
	Port                        int                  `yaml:"port" default:"4000"`
	RegistryPort                int                  `yaml:"registry_port" default:"8080"`
	TimeoutDuration             string               `yaml:"timeout_duration" default:"5s"`
	EnableHangOverRequestHeader bool                 `yaml:"enable_hang_over_request_header" default:"true"`
	Services                    []Service            `yaml:"services"`
	PeerGateways                []string             `yaml:"peer_gateways"`
	Opentelemetry               OpentelemetrySetting `yaml:"opentelemetry"`
	SDLRetry                    RetrySetting         `yaml:"sdl_retry"`
}

// ShutdownTimeout parses TimeoutDuration, defaulting to 5s on an empty
// or malformed value rather than failing startup over it.
func (o GatewayOption) ShutdownTimeout() time.Duration {
	if o.TimeoutDuration == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(o.TimeoutDuration)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

func (o GatewayOption) RetryOption() router.RetryOption {
	attempts := o.SDLRetry.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	timeout := o.SDLRetry.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return router.RetryOption{Attempts: attempts, Timeout: timeout}
}

// Load reads and decodes gateway.yaml from path.
func Load(path string) (*GatewayOption, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gateway settings file: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway settings file: %w", err)
	}

	var settings GatewayOption
	if err := yaml.Unmarshal(b, &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gateway settings: %w", err)
	}
	return &settings, nil
}
