package env_mode

import (
	"os"
	"strings"
	"sync"
)

// ENV_MODE_KEY selects which layered config files are loaded.
const ENV_MODE_KEY = "IMAGE_RESIZE_ENV"

type ENV_MODE string

const (
	DevMode  ENV_MODE = "development"
	ProMode  ENV_MODE = "production"
	TestMode ENV_MODE = "test"
)

var (
	currentEnv ENV_MODE
	modeOnce   sync.Once
)

func ParseEnv(env string) ENV_MODE {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "pro":
		return ProMode
	case "test", "testing":
		return TestMode
	default:
		return DevMode
	}
}

// Mode returns the process environment mode, read once from ENV_MODE_KEY.
func Mode() ENV_MODE {
	modeOnce.Do(func() {
		if currentEnv == "" {
			currentEnv = ParseEnv(os.Getenv(ENV_MODE_KEY))
		}
	})
	return currentEnv
}

// SetMode overrides the detected mode for the rest of the process.
func SetMode(mode ENV_MODE) {
	modeOnce.Do(func() {})
	currentEnv = mode
}

// Suffixes returns the config file name suffixes layered on top of the base
// file for mode, in ascending priority.
func Suffixes(mode ENV_MODE) []string {
	switch mode {
	case ProMode:
		return []string{"prod", "prod.local", "production", "production.local"}
	case TestMode:
		return []string{"test", "test.local"}
	default:
		return []string{"dev", "dev.local", "development", "development.local"}
	}
}
