// Package config provides configuration loading from environment variables.
package config

import (
	"os"
	"strings"
	"time"
)

// ServiceConfig holds configuration for the gateway orchestrator.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)

	InstanceName string // unique name announced on ownership nodes

	EtcdEndpoints []string
	Namespace     string // coordination node namespace, e.g. /gateway

	PollInterval    time.Duration // pull monitor cadence
	QueryTimeout    time.Duration // per bulk status query
	AuditEndpoint   string        // registry callback URL, empty disables audit delivery
	AuditSigningKey string

	// ResourceTargets lists remote compute resources as URLs of the form
	// family://user@host:port, e.g. slurm://gateway@login.cluster.org:22.
	ResourceTargets []string
	SSHKeyFile      string // private key used for all resource connections
	SSHCertFile     string // optional CA-signed certificate paired with the key

	SubmitEndpoint string // execution service URL handling job submission
	SubmitTimeout  time.Duration
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),

		InstanceName: GetEnv("INSTANCE_NAME", defaultInstanceName()),

		EtcdEndpoints: splitList(GetEnv("ETCD_ENDPOINTS", "localhost:2379")),
		Namespace:     GetEnv("COORDINATION_NAMESPACE", "/gateway"),

		PollInterval:    GetDurationEnv("MONITOR_POLL_INTERVAL", 10*time.Second),
		QueryTimeout:    GetDurationEnv("MONITOR_QUERY_TIMEOUT", 30*time.Second),
		AuditEndpoint:   GetEnv("AUDIT_ENDPOINT", ""),
		AuditSigningKey: GetSecretFile(GetEnv("AUDIT_SIGNING_KEY_FILE", "")),

		ResourceTargets: splitList(GetEnv("RESOURCE_TARGETS", "")),
		SSHKeyFile:      GetEnv("RESOURCE_SSH_KEY_FILE", ""),
		SSHCertFile:     GetEnv("RESOURCE_SSH_CERT_FILE", ""),

		SubmitEndpoint: GetEnv("SUBMIT_ENDPOINT", ""),
		SubmitTimeout:  GetDurationEnv("SUBMIT_TIMEOUT", 60*time.Second),
	}
}

func defaultInstanceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "gateway-orchestrator"
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
