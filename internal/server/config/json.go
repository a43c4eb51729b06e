package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/vdrive/internal/flagx"
	"github.com/dmitrijs2005/vdrive/internal/timex"
)

// JsonConfig is the on-disk form of Config. Durations use timex.Duration,
// so "30s" and integer nanoseconds are both accepted.
type JsonConfig struct {
	EndpointAddrHTTP  string         `json:"endpoint_addr_http"`
	DatabaseDSN       string         `json:"database_dsn"`
	StorageRoot       string         `json:"storage_root"`
	CreateStorageRoot bool           `json:"create_storage_root"`
	IOTimeout         timex.Duration `json:"io_timeout"`
	MaxUploadSize     int64          `json:"max_upload_size"`
	CORSOrigins       []string       `json:"cors_origins"`
	LogLevel          string         `json:"log_level"`
	LogFormat         string         `json:"log_format"`
	LogBackend        string         `json:"log_backend"`
}

// parseJson overlays values from the file named by -c or -config onto config.
// Keys absent from the file keep their current value. A missing flag loads
// nothing; an unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.ConfigFile()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{
		EndpointAddrHTTP:  config.EndpointAddrHTTP,
		DatabaseDSN:       config.DatabaseDSN,
		StorageRoot:       config.StorageRoot,
		CreateStorageRoot: config.CreateStorageRoot,
		IOTimeout:         timex.Duration{Duration: config.IOTimeout},
		MaxUploadSize:     config.MaxUploadSize,
		CORSOrigins:       config.CORSOrigins,
		LogLevel:          config.LogLevel,
		LogFormat:         config.LogFormat,
		LogBackend:        config.LogBackend,
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddrHTTP = c.EndpointAddrHTTP
	config.DatabaseDSN = c.DatabaseDSN
	config.StorageRoot = c.StorageRoot
	config.CreateStorageRoot = c.CreateStorageRoot
	config.IOTimeout = c.IOTimeout.Duration
	config.MaxUploadSize = c.MaxUploadSize
	config.CORSOrigins = c.CORSOrigins
	config.LogLevel = c.LogLevel
	config.LogFormat = c.LogFormat
	config.LogBackend = c.LogBackend
}
