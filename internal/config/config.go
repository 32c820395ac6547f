// Package config loads the relay's per-invocation configuration from the environment.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/stacklet/provider-relay/internal/failure"
)

// Environment variable names
const (
	EnvClientID        = "AZURE_CLIENT_ID"
	EnvAudience        = "AZURE_AUDIENCE"
	EnvTargetAccount   = "AWS_TARGET_ACCOUNT"
	EnvTargetRegion    = "AWS_TARGET_REGION"
	EnvTargetRoleName  = "AWS_TARGET_ROLE_NAME"
	EnvTargetPartition = "AWS_TARGET_PARTITION"
	EnvTargetEventBus  = "AWS_TARGET_EVENT_BUS"
	EnvMetricNamespace = "RELAY_METRIC_NAMESPACE"
	EnvSurfaceTerminal = "RELAY_SURFACE_TERMINAL"
)

var accountIDPattern = regexp.MustCompile(`^\d{12}$`)

// LookupFunc returns the value of an environment variable and whether it is set.
type LookupFunc func(key string) (string, bool)

// Config holds one invocation's configuration. It is never shared between invocations.
type Config struct {
	ClientID        string
	Audience        string
	TargetAccount   string
	TargetRegion    string
	TargetRoleName  string
	TargetPartition string
	TargetEventBus  string

	// MetricNamespace enables CloudWatch outcome metrics when non-empty.
	MetricNamespace string

	// SurfaceTerminal makes terminal failures fail the invocation instead of
	// acknowledging the message.
	SurfaceTerminal bool
}

// FromEnvironment loads configuration from the process environment.
func FromEnvironment() (Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config, reporting every missing required variable at once.
func Load(lookup LookupFunc) (Config, error) {
	var missing []string
	required := func(key string) string {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		ClientID:        required(EnvClientID),
		Audience:        required(EnvAudience),
		TargetAccount:   required(EnvTargetAccount),
		TargetRegion:    required(EnvTargetRegion),
		TargetRoleName:  required(EnvTargetRoleName),
		TargetPartition: required(EnvTargetPartition),
		TargetEventBus:  required(EnvTargetEventBus),
	}

	if len(missing) > 0 {
		return Config{}, failure.Configuration("required environment variables are not set").
			WithDetail("missing", strings.Join(missing, ","))
	}

	if !accountIDPattern.MatchString(cfg.TargetAccount) {
		return Config{}, failure.Configuration(fmt.Sprintf("%s must be a 12-digit account id", EnvTargetAccount)).
			WithDetail("value", cfg.TargetAccount)
	}

	if ns, ok := lookup(EnvMetricNamespace); ok {
		cfg.MetricNamespace = strings.TrimSpace(ns)
	}

	if raw, ok := lookup(EnvSurfaceTerminal); ok && strings.TrimSpace(raw) != "" {
		surface, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, failure.Configuration(fmt.Sprintf("%s must be a boolean", EnvSurfaceTerminal)).
				WithCause(err).
				WithDetail("value", raw)
		}
		cfg.SurfaceTerminal = surface
	}

	return cfg, nil
}

// RoleARN returns the ARN of the role assumed in the target account.
// arn:{partition}:iam::{account}:role/{name}
func (c Config) RoleARN() string {
	return arn.ARN{
		Partition: c.TargetPartition,
		Service:   "iam",
		AccountID: c.TargetAccount,
		Resource:  "role/" + c.TargetRoleName,
	}.String()
}
