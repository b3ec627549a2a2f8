// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the server configuration from a YAML file and
// FNSERVER_ prefixed environment variables.
//
// Environment variables override the file. Nested keys are separated by a
// double underscore, so FNSERVER_STORAGE__PATH sets storage.path.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/redpanda-data/wasm-functions/logging"
	"github.com/redpanda-data/wasm-functions/metering"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "FNSERVER_"

// Storage drivers.
const (
	DriverMemDB = "memdb"
	DriverBolt  = "bolt"
)

// Config is the complete server configuration.
type Config struct {
	ListenAddr string   `koanf:"listen_addr"`
	Log        Log      `koanf:"log"`
	Storage    Storage  `koanf:"storage"`
	Engine     Engine   `koanf:"engine"`
	Metering   Metering `koanf:"metering"`
	Wallet     Wallet   `koanf:"wallet"`
	Auth       Auth     `koanf:"auth"`
	Usage      Usage    `koanf:"usage"`
	Metrics    Metrics  `koanf:"metrics"`
}

// Log configures logging.
type Log struct {
	Level string `koanf:"level"`
	// File additionally writes logs to this path.
	File string `koanf:"file"`
}

// Storage selects the storage backend.
type Storage struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// Engine configures the wasm runtime.
type Engine struct {
	MemoryLimitPages    uint32 `koanf:"memory_limit_pages"`
	CompilationCacheDir string `koanf:"compilation_cache_dir"`
}

// Metering selects the cost policy.
type Metering struct {
	Policy string `koanf:"policy"`
}

// Wallet configures new wallets.
type Wallet struct {
	InitialCredits int64 `koanf:"initial_credits"`
}

// Auth configures token signing and verification. Tokens are signed with
// the private key when it is set and through the signing service at
// SignerURL otherwise. SignerURL is the full endpoint, such as
// http://127.0.0.1:8081/sign.
type Auth struct {
	PublicKeyPath  string        `koanf:"public_key_path"`
	PrivateKeyPath string        `koanf:"private_key_path"`
	SignerURL      string        `koanf:"signer_url"`
	TokenValidity  time.Duration `koanf:"token_validity"`
}

// Usage configures publishing of usage records. Publishing is disabled
// when no brokers are set.
type Usage struct {
	Brokers           []string `koanf:"brokers"`
	Topic             string   `koanf:"topic"`
	Partitions        int32    `koanf:"partitions"`
	ReplicationFactor int16    `koanf:"replication_factor"`
}

// Metrics configures the Prometheus collectors.
type Metrics struct {
	Namespace string `koanf:"namespace"`
}

// Default returns the configuration used for keys that are not set.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Log:        Log{Level: logging.LevelInfo},
		Storage:    Storage{Driver: DriverMemDB},
		Engine:     Engine{MemoryLimitPages: 65536},
		Metering:   Metering{Policy: metering.PolicyUniform},
		Wallet:     Wallet{InitialCredits: 1_000_000},
		Auth:       Auth{TokenValidity: 48 * time.Hour},
		Usage:      Usage{Topic: "function-usage", Partitions: 1, ReplicationFactor: -1},
		Metrics:    Metrics{Namespace: "wasm_functions"},
	}
}

// Load reads the YAML file at path, if path is not empty, then applies
// environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	return finish(k)
}

// Parse reads YAML bytes, then applies environment overrides on top of the
// defaults.
func Parse(data []byte) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(k)
}

func finish(k *koanf.Koanf) (Config, error) {
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}
	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// envKey maps FNSERVER_USAGE__BROKERS=a,b to usage.brokers=[a b].
func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if key == "usage.brokers" {
		return key, strings.Split(value, ",")
	}
	return key, value
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr must be set"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Storage.Driver {
	case DriverMemDB:
	case DriverBolt:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path must be set for the bolt driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := metering.ByName(c.Metering.Policy); err != nil {
		errs = append(errs, fmt.Errorf("metering.policy: %w", err))
	}
	if c.Wallet.InitialCredits < 0 {
		errs = append(errs, errors.New("wallet.initial_credits must not be negative"))
	}
	if c.Auth.PublicKeyPath == "" && c.Auth.PrivateKeyPath == "" {
		errs = append(errs, errors.New("auth.public_key_path or auth.private_key_path must be set"))
	}
	if c.Auth.PrivateKeyPath == "" && c.Auth.SignerURL == "" {
		errs = append(errs, errors.New("auth.private_key_path or auth.signer_url must be set"))
	}
	if c.Auth.TokenValidity <= 0 {
		errs = append(errs, errors.New("auth.token_validity must be positive"))
	}
	if len(c.Usage.Brokers) > 0 && c.Usage.Topic == "" {
		errs = append(errs, errors.New("usage.topic must be set when brokers are configured"))
	}
	return errors.Join(errs...)
}
