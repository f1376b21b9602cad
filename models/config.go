package models

import (
	"encoding/json"
	"fmt"
	"github.com/APTrust/dpn-registry/util/fileutil"
	"github.com/joho/godotenv"
	"github.com/op/go-logging"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	// ActiveConfig is the configuration currently
	// in use.
	ActiveConfig string

	// Config options specific to DPN services.
	DPN DPNConfig

	// LogDirectory is where we'll write our log files.
	LogDirectory string

	// LogLevel is defined in github.com/op/go-logging
	// and should be one of the following:
	// 0 - CRITICAL
	// 1 - ERROR
	// 2 - WARNING
	// 3 - NOTICE
	// 4 - INFO
	// 5 - DEBUG
	LogLevel logging.Level

	// If true, processes will log to STDERR in addition
	// to their standard log files. You really only want
	// to do this in development.
	LogToStderr bool
}

// This returns the configuration that the user requested,
// which is specified in the -c flag when we run a
// program from the command line. Settings from the environment
// override the file. See ApplyEnv.
func LoadConfigFile(pathToConfigFile string) (*Config, error) {
	file, err := fileutil.LoadRelativeFile(pathToConfigFile)
	if err != nil {
		detailedError := fmt.Errorf("Error reading config file '%s': %v\n",
			pathToConfigFile, err)
		return nil, detailedError
	}
	config := &Config{}
	err = json.Unmarshal(file, config)
	if err != nil {
		detailedError := fmt.Errorf("Error parsing JSON from config file '%s': %v",
			pathToConfigFile, err)
		return nil, detailedError
	}
	config.ActiveConfig = pathToConfigFile
	config.ApplyEnv()
	config.SetDefaults()
	return config, nil
}

// LoadEnv reads KEY=value pairs from the .env files at paths into
// the environment. Missing files are skipped. Variables that are
// already set are not overwritten.
func LoadEnv(paths ...string) error {
	for _, path := range paths {
		if !fileutil.FileExists(path) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("Error loading env file '%s': %v", path, err)
		}
	}
	return nil
}

// ApplyEnv copies secrets from the environment into the config.
// DPN_LOCAL_AUTH_TOKEN sets the token for our own REST service
// and DPN_POSTGRES_URL sets the postgres connection string.
func (config *Config) ApplyEnv() {
	if token := os.Getenv("DPN_LOCAL_AUTH_TOKEN"); token != "" {
		config.DPN.RestClient.LocalAuthToken = token
	}
	if url := os.Getenv("DPN_POSTGRES_URL"); url != "" {
		config.DPN.PostgresURL = url
	}
}

// SetDefaults fills in settings that were left empty.
func (config *Config) SetDefaults() {
	dpnConfig := &config.DPN
	if dpnConfig.DPNAPIVersion == "" {
		dpnConfig.DPNAPIVersion = "api-v2"
	}
	if dpnConfig.ServerAddress == "" {
		dpnConfig.ServerAddress = ":3000"
	}
	if dpnConfig.StoreTimeout <= 0 {
		dpnConfig.StoreTimeout = 5
	}
	if dpnConfig.NodeCacheTTL <= 0 {
		dpnConfig.NodeCacheTTL = 300
	}
	if dpnConfig.ReplicationTopic == "" {
		dpnConfig.ReplicationTopic = "dpn_replication"
	}
	if dpnConfig.SyncBatchSize <= 0 {
		dpnConfig.SyncBatchSize = 50
	}
	if dpnConfig.SyncConcurrency <= 0 {
		dpnConfig.SyncConcurrency = 4
	}
	if dpnConfig.ReplicateToNumNodes <= 0 {
		dpnConfig.ReplicateToNumNodes = 2
	}
}

// Validate returns an error if settings that every DPN service
// needs are missing.
func (config *Config) Validate() error {
	if config.DPN.LocalNode == "" {
		return fmt.Errorf("DPN.LocalNode is missing from config file")
	}
	if config.DPN.DatabaseFile == "" && config.DPN.PostgresURL == "" {
		return fmt.Errorf("Config must specify either DPN.DatabaseFile or DPN.PostgresURL")
	}
	return nil
}

// Ensures that the logging directory exists, creating it if necessary.
// Returns the absolute path the logging directory.
func (config *Config) EnsureLogDirectory() (string, error) {
	config.ExpandFilePaths()
	if config.LogDirectory == "" {
		return "", fmt.Errorf("You must define config.LogDirectory")
	}
	if !fileutil.FileExists(config.LogDirectory) {
		err := os.MkdirAll(config.LogDirectory, 0755)
		if err != nil {
			return "", err
		}
	}
	return config.AbsLogDirectory(), nil
}

func (config *Config) AbsLogDirectory() string {
	absLogDir, err := filepath.Abs(config.LogDirectory)
	if err != nil {
		msg := fmt.Sprintf("Cannot get absolute path to log directory. "+
			"config.LogDirectory is set to '%s'", config.LogDirectory)
		panic(msg)
	}
	return absLogDir
}

// Expands ~ file paths to absolute paths.
func (config *Config) ExpandFilePaths() {
	expanded, err := fileutil.ExpandTilde(config.LogDirectory)
	if err == nil {
		config.LogDirectory = expanded
	}
	expanded, err = fileutil.ExpandTilde(config.DPN.DatabaseFile)
	if err == nil {
		config.DPN.DatabaseFile = expanded
	}
}

// Config options for our DPN REST client.
type RestClientConfig struct {
	Comment         string
	LocalServiceURL string
	LocalAPIRoot    string
	LocalAuthToken  string
}

type DPNConfig struct {
	// Should we accept self-signed and otherwise invalid SSL
	// certificates? We need to do this in testing, but it
	// should not be allowed in production. Bools in Go default
	// to false, so if this is not set in config, we should be
	// safe.
	AcceptInvalidSSLCerts bool

	// AuthTokenCost is the bcrypt cost used when hashing node
	// tokens. Zero means bcrypt.DefaultCost.
	AuthTokenCost int

	// DatabaseFile is the path to the bolt DB that holds replication
	// transfers and nodes. Ignored when PostgresURL is set.
	DatabaseFile string

	// DPNAPIVersion is the current version of the DPN REST API.
	// This should be a string in the format api-v1, api-v2, etc.
	DPNAPIVersion string

	// LocalNode is the namespace of the node this code is running on.
	// E.g. "aptrust", "chron", "hathi", "tdr", "sdr"
	LocalNode string

	// NodeCacheTTL is the number of seconds a resolved auth token
	// stays in the node registry's cache.
	NodeCacheTTL int

	// NsqdAddress is the TCP address of nsqd (e.g. 127.0.0.1:4150).
	// Leave empty to disable replication status notifications.
	NsqdAddress string

	// PostgresURL is the connection string for postgres. Usually
	// set via DPN_POSTGRES_URL rather than in the file.
	PostgresURL string

	// Number of nodes we should replicate bags to.
	ReplicateToNumNodes int

	// ReplicationTopic is the NSQ topic for replication status changes.
	ReplicationTopic string

	// Settings for connecting to our own REST service
	RestClient RestClientConfig

	// API Tokens for connecting to remote nodes
	RemoteNodeTokens map[string]string

	// URLs for remote nodes. Set these only if you want to
	// override the node URLs from our local registry.
	RemoteNodeURLs map[string]string

	// ServerAddress is the address our REST service listens on.
	ServerAddress string

	// StoreTimeout is the number of seconds a single database
	// call may take before the request fails as unavailable.
	StoreTimeout int

	// SyncBatchSize describes how many records we request per
	// page from remote nodes when synching.
	SyncBatchSize int

	// SyncConcurrency is the number of remote nodes we sync
	// from at the same time.
	SyncConcurrency int
}

func (dpnConfig *DPNConfig) StoreTimeoutDuration() time.Duration {
	return time.Duration(dpnConfig.StoreTimeout) * time.Second
}

func (dpnConfig *DPNConfig) NodeCacheTTLDuration() time.Duration {
	return time.Duration(dpnConfig.NodeCacheTTL) * time.Second
}
