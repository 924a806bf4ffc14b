/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads and validates the sync process's configuration,
// following the mutate-in-place Validate pattern of snowflake.Config:
// required fields are checked and zero-value optional fields are
// defaulted in place.
package config

import (
	"errors"
	"fmt"
)

// Default configuration values (spec §6).
const (
	DefaultLockStaleSeconds   = 1800
	DefaultBatchSize          = 10000
	DefaultMaxDurationSeconds = 3600
	DefaultMaxIterations      = 100000
	DefaultRetryMaxAttempts   = 3
	DefaultRetryBaseMs        = 1000
	DefaultRetryCapMs         = 30000
	DefaultRetryJitter        = 0.2
	DefaultProgressChannelCap = 1000
	DefaultAnalyticsDatabase  = "main"
)

// SourceConfig holds the Oracle source connection parameters.
type SourceConfig struct {
	Host     string
	Port     int
	Service  string
	User     string
	Password string
}

// AnalyticsConfig holds the embedded analytics store location.
type AnalyticsConfig struct {
	// Path is the file path of the DuckDB store.
	Path string
	// Database is the logical database name inside the store.
	Database string
}

// RetryConfig tunes the sync engine's backoff policy.
type RetryConfig struct {
	MaxAttempts int
	BaseMs      int
	CapMs       int
	Jitter      float64
}

// Config is the full process configuration, covering every key in spec
// §6.
type Config struct {
	Source    SourceConfig
	Analytics AnalyticsConfig

	// StateDir is the directory for state, mapping, checkpoint, and lock files.
	StateDir string

	LockStaleSeconds   int
	BatchSize          int
	MaxDurationSeconds int
	MaxIterations      int
	Retry              RetryConfig
	ProgressChannelCap int
}

// Validate checks required fields and fills zero-value optional fields
// with their spec-mandated defaults.
func (c *Config) Validate() error {
	if c.Source.Host == "" {
		return errors.New("config: source.host is required")
	}
	if c.Source.Port == 0 {
		return errors.New("config: source.port is required")
	}
	if c.Source.Service == "" {
		return errors.New("config: source.service is required")
	}
	if c.Source.User == "" {
		return errors.New("config: source.user is required")
	}
	if c.Source.Password == "" {
		return errors.New("config: source.password is required")
	}
	if c.Analytics.Path == "" {
		return errors.New("config: analytics.path is required")
	}
	if c.Analytics.Database == "" {
		c.Analytics.Database = DefaultAnalyticsDatabase
	}
	if c.StateDir == "" {
		return errors.New("config: state.dir is required")
	}

	if c.LockStaleSeconds <= 0 {
		c.LockStaleSeconds = DefaultLockStaleSeconds
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxDurationSeconds <= 0 {
		c.MaxDurationSeconds = DefaultMaxDurationSeconds
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if c.Retry.BaseMs <= 0 {
		c.Retry.BaseMs = DefaultRetryBaseMs
	}
	if c.Retry.CapMs <= 0 {
		c.Retry.CapMs = DefaultRetryCapMs
	}
	if c.Retry.Jitter <= 0 {
		c.Retry.Jitter = DefaultRetryJitter
	}
	if c.ProgressChannelCap <= 0 {
		c.ProgressChannelCap = DefaultProgressChannelCap
	}
	return nil
}

// ConnString returns the source connection parameters formatted for
// human-readable logging only — it deliberately omits the password.
func (c *Config) ConnString() string {
	return fmt.Sprintf("%s:%d/%s", c.Source.Host, c.Source.Port, c.Source.Service)
}
