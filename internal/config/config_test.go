package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/n9te9/federation-gateway/internal/config"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadParsesServicesAndPeers(t *testing.T) {
	path := writeTempConfig(t, `
service_name: gateway
port: 4000
services:
  - name: accounts
    address: accounts:4001
    query_path: /query
  - name: reviews
    address: reviews:4002
peer_gateways:
  - http://gateway-2:8080
`)

	opt, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if opt.ServiceName != "gateway" {
		t.Errorf("ServiceName = %q, want gateway", opt.ServiceName)
	}
	if len(opt.Services) != 2 {
		t.Fatalf("len(Services) = %d, want 2", len(opt.Services))
	}
	if opt.Services[0].Name != "accounts" || opt.Services[0].Address != "accounts:4001" {
		t.Errorf("Services[0] = %+v, want accounts/accounts:4001", opt.Services[0])
	}
	if len(opt.PeerGateways) != 1 || opt.PeerGateways[0] != "http://gateway-2:8080" {
		t.Errorf("PeerGateways = %v, want [http://gateway-2:8080]", opt.PeerGateways)
	}
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/path/gateway.yaml"); err == nil {
		t.Fatalf("Load() error = nil, want an error for a missing file")
	}
}

func TestShutdownTimeoutDefaultsOnEmpty(t *testing.T) {
	opt := config.GatewayOption{}
	if got := opt.ShutdownTimeout(); got != 5*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 5s default", got)
	}
}

func TestShutdownTimeoutParsesValue(t *testing.T) {
	opt := config.GatewayOption{TimeoutDuration: "10s"}
	if got := opt.ShutdownTimeout(); got != 10*time.Second {
		t.Errorf("ShutdownTimeout() = %v, want 10s", got)
	}
}

func TestRetryOptionDefaultsOnZeroValue(t *testing.T) {
	opt := config.GatewayOption{}
	retry := opt.RetryOption()
	if retry.Attempts != 3 {
		t.Errorf("RetryOption().Attempts = %d, want 3", retry.Attempts)
	}
	if retry.Timeout != 5*time.Second {
		t.Errorf("RetryOption().Timeout = %v, want 5s", retry.Timeout)
	}
}

func TestServiceDescriptorMapping(t *testing.T) {
	svc := config.Service{Name: "accounts", Address: "accounts:4001", TLS: true, QueryPath: "/q", SubscribePath: "/s"}
	d := svc.Descriptor()
	if d.Name != "accounts" || d.Address != "accounts:4001" || !d.TLS || d.QueryPath != "/q" || d.SubscribePath != "/s" {
		t.Errorf("Descriptor() = %+v, want a field-for-field mapping from Service", d)
	}
}
