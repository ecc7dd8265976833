package config

import "os"

// EnvConfig overrides the config file path.
const EnvConfig = "VDRIVE_CONFIG"

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // VDRIVE_CONFIG
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
	}
}
