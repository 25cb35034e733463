// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// a type with service configuration parameters
type serviceConfig struct {
	// Host and port on which the service listens.
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	// Maximum number of allowed incoming connections.
	MaxConnections int `json:"maxConnections" yaml:"maxConnections"`
	// Directory in which the service keeps its databases and staged bytes.
	DataDirectory string `json:"data_dir" yaml:"data_dir"`
	// Whether the agent tool endpoints are mounted.
	EnableAgentTools bool `json:"enable_agent_tools" yaml:"enable_agent_tools"`
}

// a type with authentication parameters; the service is fail-closed, so one
// of the key fields (or the insecure escape hatch) must be set
type authConfig struct {
	// static API key expected in Authorization / X-API-Key headers
	ApiKey string `json:"api_key" yaml:"api_key"`
	// base64 fernet key; when set, bearer tokens are fernet tokens
	FernetKey string `json:"fernet_key" yaml:"fernet_key"`
	// fernet token time-to-live in seconds
	TokenTtlSeconds int `json:"token_ttl_seconds" yaml:"token_ttl_seconds"`
	// disables authentication entirely (development only)
	AllowInsecureDev bool `json:"allow_insecure_dev" yaml:"allow_insecure_dev"`
}

// a type with storage backend parameters
type storageConfig struct {
	// backend scheme ("fs" or "mem")
	Scheme string `json:"scheme" yaml:"scheme"`
	// base directory for the filesystem backend (defaults to
	// <data_dir>/staging)
	BasePath string `json:"base_path" yaml:"base_path"`
	// upper bound on a single artifact's size in bytes (0 = unlimited)
	MaxArtifactBytes int64 `json:"max_artifact_bytes" yaml:"max_artifact_bytes"`
}

// a type with outbound sink parameters
type sinksConfig struct {
	// sinks enabled for this process ("fs", "http", "https")
	Enabled []string `json:"enabled" yaml:"enabled"`
	// base directory for the filesystem sink
	FilesystemBasePath string `json:"fs_base_path" yaml:"fs_base_path"`
	// request timeout for the HTTP sink, in seconds
	HttpTimeoutSeconds int `json:"http_timeout_seconds" yaml:"http_timeout_seconds"`
}

// a type with database file locations (both default into data_dir)
type databasesConfig struct {
	MetadataDb string `json:"metadata_db" yaml:"metadata_db"`
	ReceiptsDb string `json:"receipts_db" yaml:"receipts_db"`
}

// global config variables
var Service serviceConfig
var Auth authConfig
var Storage storageConfig
var Sinks sinksConfig
var Databases databasesConfig

// This struct performs the unmarshalling from the YAML config file and then
// copies its fields to the globals above.
type configFile struct {
	Service   serviceConfig   `yaml:"service"`
	Auth      authConfig      `yaml:"auth"`
	Storage   storageConfig   `yaml:"storage"`
	Sinks     sinksConfig     `yaml:"sinks"`
	Databases databasesConfig `yaml:"databases"`
}

// This helper reads configuration data, returning an error indicating success
// or failure. All environment variables of the form ${ENV_VAR} are expanded.
func readConfig(bytes []byte) error {
	// Before we do anything else, expand any provided environment variables.
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Service.Host = "127.0.0.1"
	conf.Service.Port = 8080
	conf.Service.MaxConnections = 100
	conf.Auth.TokenTtlSeconds = 3600
	conf.Storage.Scheme = "fs"
	conf.Sinks.HttpTimeoutSeconds = 30
	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		log.Printf("Couldn't parse configuration data: %s\n", err)
		return err
	}

	// copy the config data into place
	Service = conf.Service
	Auth = conf.Auth
	Storage = conf.Storage
	Sinks = conf.Sinks
	Databases = conf.Databases

	// fill in locations that default into the data directory
	if Service.DataDirectory != "" {
		if Storage.BasePath == "" {
			Storage.BasePath = filepath.Join(Service.DataDirectory, "staging")
		}
		if Databases.MetadataDb == "" {
			Databases.MetadataDb = filepath.Join(Service.DataDirectory, "metadata.db")
		}
		if Databases.ReceiptsDb == "" {
			Databases.ReceiptsDb = filepath.Join(Service.DataDirectory, "receipts.db")
		}
	}
	if len(Sinks.Enabled) == 0 {
		Sinks.Enabled = []string{"fs", "http"}
	}
	if Sinks.FilesystemBasePath == "" && Service.DataDirectory != "" {
		Sinks.FilesystemBasePath = filepath.Join(Service.DataDirectory, "outbox")
	}

	return err
}

// This helper validates the given service parameters, returning an error
// indicating success or failure.
func validateServiceParameters(params serviceConfig) error {
	if params.Port < 0 || params.Port > 65535 {
		return fmt.Errorf("Invalid port: %d (must be 0-65535)", params.Port)
	}
	if params.MaxConnections <= 0 {
		return fmt.Errorf("Invalid maxConnections: %d (must be positive)",
			params.MaxConnections)
	}
	if params.DataDirectory == "" {
		return fmt.Errorf("No data directory was provided!")
	}
	return nil
}

// This helper validates the configuration, returning an error that indicates
// success or failure.
func validateConfig() error {
	err := validateServiceParameters(Service)
	if err != nil {
		return err
	}

	// the service is fail-closed: refusing all requests beats accepting them
	// unauthenticated
	if Auth.ApiKey == "" && Auth.FernetKey == "" && !Auth.AllowInsecureDev {
		return fmt.Errorf("No API key or fernet key was provided " +
			"(set allow_insecure_dev to run without authentication)")
	}
	if Auth.TokenTtlSeconds <= 0 {
		return fmt.Errorf("Invalid token_ttl_seconds: %d (must be positive)",
			Auth.TokenTtlSeconds)
	}

	switch Storage.Scheme {
	case "fs", "mem":
	default:
		return fmt.Errorf("Invalid storage scheme: %s", Storage.Scheme)
	}
	if Storage.Scheme == "fs" && Storage.BasePath == "" {
		return fmt.Errorf("No storage base path was provided!")
	}
	if Storage.MaxArtifactBytes < 0 {
		return fmt.Errorf("Invalid max_artifact_bytes: %d", Storage.MaxArtifactBytes)
	}

	if len(Sinks.Enabled) == 0 {
		return fmt.Errorf("No sinks were enabled!")
	}
	for _, name := range Sinks.Enabled {
		switch name {
		case "fs":
			if Sinks.FilesystemBasePath == "" {
				return fmt.Errorf("No filesystem sink base path was provided!")
			}
		case "http", "https":
		default:
			return fmt.Errorf("Invalid sink: %s", name)
		}
	}
	return nil
}

// Initializes the depot service configuration using the given YAML byte data.
func Init(yamlData []byte) error {

	// Read the configuration from our YAML data.
	err := readConfig(yamlData)
	if err != nil {
		return err
	}

	// Validate the configuration.
	err = validateConfig()
	return err
}
