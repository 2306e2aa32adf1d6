package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Validator interface {
	Validate() error
}

type ConfigInterface interface {
	Bind(instance any) error
	BindWithDefaults(instance any) error
	Get(key string) any
	Set(key string, value any)
}

type Config struct {
	instance   *viper.Viper
	opts       ConfigOptions
	watchOnce  sync.Once
	watchMutex sync.RWMutex
}

type ConfigOptions struct {
	BasePath  string
	FileName  string
	FileType  string
	EnvPrefix string
	// EnvKeys are bound to environment variables even when no file sets them,
	// e.g. credentials that must never be written to disk.
	EnvKeys []string
	// AllowMissing starts from defaults when no config file exists.
	AllowMissing bool
	WatchAble    bool
	OnChange     func(e fsnotify.Event)
}
