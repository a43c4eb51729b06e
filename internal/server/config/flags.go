package config

import (
	"flag"
	"os"
	"strings"

	"github.com/dmitrijs2005/vdrive/internal/flagx"
)

// parseFlags populates server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     HTTP bind address (e.g., ":8080")
//	-d string     PostgreSQL DSN
//	-r string     storage root directory
//	-m bool       create the storage root if missing (use -m=false to disable)
//	-t duration   timeout of one physical storage step (e.g., "30s")
//	-u int        max upload size in bytes
//	-o string     comma-separated CORS origins (empty disables CORS)
//	-l string     log level
//	-f string     log format: json or text
//	-b string     log backend: slog or zap
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-r", "-m", "-t", "-u", "-o", "-l", "-f", "-b"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.StorageRoot, "r", config.StorageRoot, "storage root directory")
	fs.BoolVar(&config.CreateStorageRoot, "m", config.CreateStorageRoot, "create storage root if missing")
	fs.DurationVar(&config.IOTimeout, "t", config.IOTimeout, "physical storage step timeout")
	fs.Int64Var(&config.MaxUploadSize, "u", config.MaxUploadSize, "max upload size in bytes")
	fs.Func("o", "comma-separated CORS origins", func(v string) error {
		config.CORSOrigins = splitList(v)
		return nil
	})
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format (json, text)")
	fs.StringVar(&config.LogBackend, "b", config.LogBackend, "log backend (slog, zap)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}

// splitList splits a comma-separated flag value, dropping blank items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
