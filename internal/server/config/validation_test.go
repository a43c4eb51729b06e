package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults ok", mutate: func(c *Config) {}},
		{name: "empty addr", mutate: func(c *Config) { c.EndpointAddrHTTP = "" }, wantErr: "EndpointAddrHTTP"},
		{name: "addr without port", mutate: func(c *Config) { c.EndpointAddrHTTP = "localhost" }, wantErr: "EndpointAddrHTTP"},
		{name: "empty dsn", mutate: func(c *Config) { c.DatabaseDSN = "" }, wantErr: "DatabaseDSN"},
		{name: "relative root", mutate: func(c *Config) { c.StorageRoot = "storage" }, wantErr: "StorageRoot"},
		{name: "zero timeout", mutate: func(c *Config) { c.IOTimeout = 0 }, wantErr: "IOTimeout"},
		{name: "negative timeout", mutate: func(c *Config) { c.IOTimeout = -time.Second }, wantErr: "IOTimeout"},
		{name: "zero upload", mutate: func(c *Config) { c.MaxUploadSize = 0 }, wantErr: "MaxUploadSize"},
		{name: "blank cors origin", mutate: func(c *Config) { c.CORSOrigins = []string{"http://localhost:3000", ""} }, wantErr: "CORSOrigins"},
		{name: "no cors origins", mutate: func(c *Config) { c.CORSOrigins = nil }},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "LogLevel"},
		{name: "bad format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "LogFormat"},
		{name: "bad backend", mutate: func(c *Config) { c.LogBackend = "logrus" }, wantErr: "LogBackend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)

			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
