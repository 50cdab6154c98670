package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig = "CAMARA_SYNC_CONFIG"
	EnvDB     = "CAMARA_SYNC_DB"
	EnvAPIURL = "CAMARA_SYNC_API_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // CAMARA_SYNC_CONFIG: config file path
	DBPath     string // CAMARA_SYNC_DB: database path
	APIURL     string // CAMARA_SYNC_API_URL: API base URL
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DBPath:     os.Getenv(EnvDB),
		APIURL:     os.Getenv(EnvAPIURL),
	}
}
