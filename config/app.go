package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/leeforge/imageresize/logging"
	"github.com/leeforge/imageresize/redis_client"
)

// SecretKeys are read from the environment even when absent from every file.
var SecretKeys = []string{
	"storage.oss.access-key-id",
	"storage.oss.access-key-secret",
	"storage.s3.access-key-id",
	"storage.s3.secret-access-key",
	"redis.password",
}

// AppConfig is the full service configuration.
type AppConfig struct {
	Log        logging.Config    `mapstructure:"log"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Sizes      SizesConfig       `mapstructure:"sizes"`
	Categories []CategoryConfig  `mapstructure:"categories" validate:"dive"`
	Pipeline   PipelineConfig    `mapstructure:"pipeline"`
	Dispatch   DispatchConfig    `mapstructure:"dispatch"`
	Redis      RedisSourceConfig `mapstructure:"redis"`
	Scan       ScanConfig        `mapstructure:"scan"`
	Watch      WatchConfig       `mapstructure:"watch"`
	HTTP       HTTPConfig        `mapstructure:"http"`
}

// StorageConfig is the single named setting holding the object store connection.
type StorageConfig struct {
	Driver string      `mapstructure:"driver" default:"local" validate:"oneof=local oss s3 memory"`
	Local  LocalConfig `mapstructure:"local"`
	OSS    OSSConfig   `mapstructure:"oss"`
	S3     S3Config    `mapstructure:"s3"`
}

type LocalConfig struct {
	BasePath string `mapstructure:"base-path" default:"data"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access-key-id"`
	AccessKeySecret string `mapstructure:"access-key-secret"`
	// BucketPrefix is prepended to the category name to form the bucket name.
	BucketPrefix string `mapstructure:"bucket-prefix"`
}

type S3Config struct {
	Region          string `mapstructure:"region" default:"auto"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access-key-id"`
	SecretAccessKey string `mapstructure:"secret-access-key"`
	BucketPrefix    string `mapstructure:"bucket-prefix"`
	UsePathStyle    bool   `mapstructure:"use-path-style"`
}

// SizesConfig controls how size tags resolve to bounding dimensions.
type SizesConfig struct {
	// Strict rejects unknown size tags; when false they fall back to the
	// smallest known bound.
	Strict *bool `mapstructure:"strict" default:"true"`
	// Tags registers additional tag -> dimension entries.
	Tags map[string]int `mapstructure:"tags" validate:"dive,gt=0"`
}

// IsStrict reports the effective strictness.
func (s SizesConfig) IsStrict() bool {
	return s.Strict == nil || *s.Strict
}

type CategoryConfig struct {
	Name            string       `mapstructure:"name" validate:"required"`
	OriginalsPrefix string       `mapstructure:"originals-prefix" default:"originals/"`
	Sizes           []SizeConfig `mapstructure:"sizes" validate:"required,min=1,dive"`
}

type SizeConfig struct {
	Tag            string `mapstructure:"tag" validate:"required"`
	PreserveAspect bool   `mapstructure:"preserve-aspect"`
}

type PipelineConfig struct {
	// Parallelism bounds concurrent size tags per original; 0 means one per tag.
	Parallelism int `mapstructure:"parallelism" validate:"gte=0"`
	JPEGQuality int `mapstructure:"jpeg-quality" default:"90" validate:"gte=1,lte=100"`
}

type DispatchConfig struct {
	// Workers bounds concurrently processed originals; 0 sizes it from GOMAXPROCS.
	Workers    int `mapstructure:"workers" validate:"gte=0"`
	BufferSize int `mapstructure:"buffer-size" default:"1024" validate:"gt=0"`
}

type RedisSourceConfig struct {
	redis_client.Config `mapstructure:",squash"`

	Enabled      bool          `mapstructure:"enabled"`
	Stream       string        `mapstructure:"stream" default:"images:originals"`
	Group        string        `mapstructure:"group" default:"image-resize"`
	Consumer     string        `mapstructure:"consumer"`
	BlockTimeout time.Duration `mapstructure:"block-timeout" default:"5s"`
	MaxAttempts  int           `mapstructure:"max-attempts" default:"3" validate:"gte=1"`
	MaxInFlight  int           `mapstructure:"max-in-flight" default:"64" validate:"gte=0"`
}

type ScanConfig struct {
	Enabled  *bool         `mapstructure:"enabled" default:"true"`
	Interval time.Duration `mapstructure:"interval" default:"5m" validate:"gt=0"`
}

// IsEnabled reports whether the periodic reconciliation scan runs.
func (s ScanConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type WatchConfig struct {
	// Enabled only applies to the local storage driver.
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce" default:"500ms"`
}

type HTTPConfig struct {
	Enabled *bool  `mapstructure:"enabled" default:"true"`
	Addr    string `mapstructure:"addr" default:":8080"`
}

// IsEnabled reports whether the ops server (/healthz, /metrics) runs.
func (h HTTPConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// DefaultCategories mirrors the four image categories served by the site.
func DefaultCategories() []CategoryConfig {
	thumbAndLarge := func() []SizeConfig {
		return []SizeConfig{
			{Tag: "100x100"},
			{Tag: "480x360", PreserveAspect: true},
		}
	}
	return []CategoryConfig{
		{Name: "defaultimages", OriginalsPrefix: "originals/", Sizes: thumbAndLarge()},
		{Name: "eventimages", OriginalsPrefix: "originals/", Sizes: thumbAndLarge()},
		{Name: "groupimages", OriginalsPrefix: "originals/", Sizes: thumbAndLarge()},
		{Name: "sheetimages", OriginalsPrefix: "originals/", Sizes: []SizeConfig{{Tag: "480x360", PreserveAspect: true}}},
	}
}

// Validate checks struct constraints and cross-field rules.
func (c *AppConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		if _, dup := seen[cat.Name]; dup {
			return fmt.Errorf("invalid config: duplicate category %q", cat.Name)
		}
		seen[cat.Name] = struct{}{}
	}

	switch c.Storage.Driver {
	case "oss":
		if c.Storage.OSS.Endpoint == "" || c.Storage.OSS.AccessKeyID == "" {
			return fmt.Errorf("invalid config: storage.oss requires endpoint and access-key-id")
		}
	case "s3":
		if c.Storage.S3.AccessKeyID == "" {
			return fmt.Errorf("invalid config: storage.s3 requires access-key-id")
		}
	}
	if c.Watch.Enabled && c.Storage.Driver != "local" {
		return fmt.Errorf("invalid config: watch requires the local storage driver")
	}
	return nil
}

// Load reads, defaults and validates the AppConfig.
func Load(opts ...ConfigOptions) (*AppConfig, *Config, error) {
	loader, err := NewConfig(opts...)
	if err != nil {
		return nil, nil, err
	}

	app := &AppConfig{}
	if err := loader.BindWithDefaults(app); err != nil {
		return nil, nil, err
	}
	if len(app.Categories) == 0 {
		app.Categories = DefaultCategories()
	}
	if err := app.Validate(); err != nil {
		return nil, nil, err
	}
	return app, loader, nil
}
