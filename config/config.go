// Package config loads process configuration from the environment.
//
// All variables carry the CLASSPOINTS_ prefix:
//
//	CLASSPOINTS_ADDR         listen address        (default :8080)
//	CLASSPOINTS_DATA_DIR     JSON document root    (default ./data)
//	CLASSPOINTS_JWT_SECRET   HS256 signing secret  (required)
//	CLASSPOINTS_LOG_LEVEL    logrus level          (default info)
//	CLASSPOINTS_CORS_ORIGINS allowed origins       (default *)
//
// Classroom-level settings (mode, max points per operation, week start) are
// data, not process config: they live in config.json behind the store.
package config

import (
	"github.com/kelseyhightower/envconfig"
)

// Config is the process-level configuration.
type Config struct {
	Addr        string   `envconfig:"ADDR" default:":8080"`
	DataDir     string   `envconfig:"DATA_DIR" default:"./data"`
	JWTSecret   string   `envconfig:"JWT_SECRET" required:"true"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load reads the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("classpoints", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
