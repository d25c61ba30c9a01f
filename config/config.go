// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates configuration for the application. It is loaded once
// at process start and handed to constructors; components never read the
// environment themselves.
type Config struct {
	AWS         AWSConfig         `mapstructure:"aws"`
	Store       StoreConfig       `mapstructure:"store"`
	RecordDB    RecordDBConfig    `mapstructure:"recorddb"`
	Transition  TransitionConfig  `mapstructure:"transition"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Source      SourceConfig      `mapstructure:"source"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Health      HealthConfig      `mapstructure:"health"`
	Debug       DebugConfig       `mapstructure:"debug"`
}

type AWSConfig struct {
	Region          string `mapstructure:"region"`
	RoleARN         string `mapstructure:"role_arn"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionName     string `mapstructure:"session_name"`
}

type StoreConfig struct {
	// Backend is one of StoreDynamoDB, StorePostgres or StoreMemory.
	Backend string `mapstructure:"backend"`
	Table   string `mapstructure:"table"`
}

type RecordDBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

type TransitionConfig struct {
	Strict bool `mapstructure:"strict"`
}

type DispatchConfig struct {
	PrimaryTarget              string            `mapstructure:"primary_target"`
	Triggers                   map[string]string `mapstructure:"triggers"`
	PartitionKeyField          string            `mapstructure:"partition_key_field"`
	WorkflowNameField          string            `mapstructure:"workflow_name_field"`
	AlternateWorkflowNameField string            `mapstructure:"alternate_workflow_name_field"`
	StatusField                string            `mapstructure:"status_field"`
	ErrorPolicy                string            `mapstructure:"error_policy"`
	MissingNamePolicy          string            `mapstructure:"missing_name_policy"`
	// DryRun starts executions against an in-process engine.
	DryRun bool `mapstructure:"dry_run"`
}

type SourceConfig struct {
	StreamARN          string        `mapstructure:"stream_arn"`
	IteratorType       string        `mapstructure:"iterator_type"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	RediscoverInterval time.Duration `mapstructure:"rediscover_interval"`
	BatchLimit         int32         `mapstructure:"batch_limit"`

	QueueURL      string `mapstructure:"queue_url"`
	QueueRegion   string `mapstructure:"queue_region"`
	QueueRoleARN  string `mapstructure:"queue_role_arn"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`

	HTTPPort      int   `mapstructure:"http_port"`
	BodyLimitByte int64 `mapstructure:"body_limit_bytes"`
}

type DiagnosticsConfig struct {
	CloudWatchNamespace string `mapstructure:"cloudwatch_namespace"`
	OTelPrefix          string `mapstructure:"otel_prefix"`
}

type HealthConfig struct {
	Port int `mapstructure:"port"`
}

type DebugConfig struct {
	// PprofPort enables net/http/pprof when positive.
	PprofPort int `mapstructure:"pprof_port"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: StoreDynamoDB,
			Table:   "sessions",
		},
		RecordDB: RecordDBConfig{
			Port:     5432,
			Database: "sessionkeeper",
			SSLMode:  "disable",
		},
		Dispatch: DispatchConfig{
			Triggers:                   map[string]string{},
			PartitionKeyField:          "id",
			WorkflowNameField:          "workflowName",
			AlternateWorkflowNameField: "workflowExecutionName",
			StatusField:                "status",
			ErrorPolicy:                "fail-batch",
			MissingNamePolicy:          "fail",
		},
		Source: SourceConfig{
			IteratorType:       "LATEST",
			PollInterval:       time.Second,
			RediscoverInterval: time.Minute,
			BatchLimit:         100,
			MaxConcurrent:      10,
			HTTPPort:           8080,
			BodyLimitByte:      DefaultBodyLimitBytes,
		},
		Diagnostics: DiagnosticsConfig{
			OTelPrefix: "sessionkeeper",
		},
		Health: HealthConfig{
			Port: 8090,
		},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "SESSIONKEEPER" and the dot character
// in keys is replaced by an underscore. For example, "transition.strict"
// becomes "SESSIONKEEPER_TRANSITION_STRICT".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("SESSIONKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	// From the environment triggers arrive as STATUS=target,...
	if s, ok := v.Get("dispatch.triggers").(string); ok {
		triggers, err := ParseTriggers(s)
		if err != nil {
			return nil, err
		}
		v.Set("dispatch.triggers", triggers)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.Dispatch.Triggers = normalizeTriggers(cfg.Dispatch.Triggers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseTriggers parses "DELETING=arn:...,CANCELLING=arn:...".
func ParseTriggers(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		status, target, ok := strings.Cut(pair, "=")
		status = strings.TrimSpace(status)
		target = strings.TrimSpace(target)
		if !ok || status == "" || target == "" {
			return nil, fmt.Errorf("invalid trigger %q, want STATUS=target", pair)
		}
		out[status] = target
	}
	return out, nil
}

// normalizeTriggers restores upper-case status keys; viper lower-cases map
// keys read from files.
func normalizeTriggers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// Validate rejects values no component can start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreDynamoDB, StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if c.Store.Backend == StoreDynamoDB && c.Store.Table == "" {
		return fmt.Errorf("store.table is required for the dynamodb backend")
	}
	switch strings.ToUpper(c.Source.IteratorType) {
	case "LATEST", "TRIM_HORIZON":
	default:
		return fmt.Errorf("source.iterator_type: unknown iterator type %q", c.Source.IteratorType)
	}
	if c.Source.PollInterval <= 0 {
		return fmt.Errorf("source.poll_interval must be positive")
	}
	return nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
