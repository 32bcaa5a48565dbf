package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/demohub/internal/decision"
	"github.com/Brownie44l1/demohub/internal/logging"
)

const (
	KindImage = "image"
	KindText  = "text"
)

type Config struct {
	HTTP struct {
		Port            int           `yaml:"port"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
		MaxUploadMB     int64         `yaml:"max_upload_mb"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"http"`
	Log logging.Config `yaml:"log"`
	Hub struct {
		BaseURL  string        `yaml:"base_url"`
		CacheDir string        `yaml:"cache_dir"`
		Token    string        `yaml:"token"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"hub"`
	ONNX struct {
		LibraryPath string `yaml:"library_path"`
	} `yaml:"onnx"`
	Thresholds decision.Thresholds `yaml:"thresholds"`
	Cache      struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
	History struct {
		Path string `yaml:"path"`
	} `yaml:"history"`
	Apps []AppConfig `yaml:"apps"`
}

type AppConfig struct {
	ID         string               `yaml:"id"`
	Title      string               `yaml:"title"`
	Kind       string               `yaml:"kind"`
	Model      ModelSource          `yaml:"model"`
	Classes    []Class              `yaml:"classes"`
	Thresholds *decision.Thresholds `yaml:"thresholds"`
	Preload    bool                 `yaml:"preload"`
}

// ModelSource points at either a hub artifact (Repo + Filename) or a local file (Path).
type ModelSource struct {
	Repo         string `yaml:"repo"`
	Revision     string `yaml:"revision"`
	Filename     string `yaml:"filename"`
	Metadata     string `yaml:"metadata"`
	Path         string `yaml:"path"`
	MetadataPath string `yaml:"metadata_path"`
}

type Class struct {
	Name  string `yaml:"name"`
	Emoji string `yaml:"emoji"`
	Color string `yaml:"color"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = 8080
	cfg.HTTP.AllowedOrigins = []string{"*"}
	cfg.HTTP.MaxUploadMB = 10
	cfg.HTTP.ShutdownTimeout = 10 * time.Second
	cfg.Log = logging.Config{Level: "info", Format: "json"}
	cfg.Hub.BaseURL = "https://huggingface.co"
	cfg.Hub.CacheDir = defaultCacheDir()
	cfg.Hub.Timeout = 5 * time.Minute
	cfg.Thresholds = decision.DefaultThresholds()
	cfg.Cache.Size = 256
	return cfg
}

// DefaultApps serves the cats vs dogs model from models/. The published
// checkpoint is Keras .h5; convert it to models/catsvsdogs.onnx first (see
// config.example.yaml). models/catsvsdogs.json ships with the repo.
func DefaultApps() []AppConfig {
	return []AppConfig{{
		ID:    "catsvsdogs",
		Title: "Cats vs Dogs",
		Kind:  KindImage,
		Model: ModelSource{
			Path:         "models/catsvsdogs.onnx",
			MetadataPath: "models/catsvsdogs.json",
		},
		Classes: []Class{
			{Name: "Cat", Emoji: "🐱", Color: "#ff9a3c"},
			{Name: "Dog", Emoji: "🐶", Color: "#7fb3d5"},
		},
	}}
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".cache/demohub"
	}
	return dir + "/demohub"
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if len(cfg.Apps) == 0 {
		cfg.Apps = DefaultApps()
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.HTTP.Port = p
	}
	if lib := os.Getenv("ONNXRUNTIME_LIB"); lib != "" {
		c.ONNX.LibraryPath = lib
	}
	if dir := os.Getenv("DEMOHUB_CACHE_DIR"); dir != "" {
		c.Hub.CacheDir = dir
	}
	if token := os.Getenv("HF_TOKEN"); token != "" {
		c.Hub.Token = token
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.HTTP.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("http.max_upload_mb must be positive"))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, fmt.Errorf("cache.size must not be negative"))
	}
	if err := c.Thresholds.Validate(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool)
	for i, app := range c.Apps {
		if app.ID == "" {
			errs = append(errs, fmt.Errorf("apps[%d]: id is required", i))
			continue
		}
		if seen[app.ID] {
			errs = append(errs, fmt.Errorf("apps[%d]: duplicate id %q", i, app.ID))
		}
		seen[app.ID] = true

		if app.Kind != KindImage && app.Kind != KindText {
			errs = append(errs, fmt.Errorf("app %q: unknown kind %q", app.ID, app.Kind))
		}
		if app.Model.Path == "" && (app.Model.Repo == "" || app.Model.Filename == "") {
			errs = append(errs, fmt.Errorf("app %q: model needs a path or repo and filename", app.ID))
		}
		if app.Model.MetadataPath == "" && app.Model.Metadata == "" {
			errs = append(errs, fmt.Errorf("app %q: model metadata is required", app.ID))
		}
		if app.Thresholds != nil {
			if err := c.ThresholdsFor(app.ID).Validate(); err != nil {
				errs = append(errs, fmt.Errorf("app %q: %w", app.ID, err))
			}
		}
	}

	return errors.Join(errs...)
}

// ThresholdsFor returns the global thresholds with any per-app override
// applied. A field the override leaves at zero keeps the global value.
func (c *Config) ThresholdsFor(id string) decision.Thresholds {
	t := c.Thresholds
	for _, app := range c.Apps {
		if app.ID != id || app.Thresholds == nil {
			continue
		}
		if app.Thresholds.High != 0 {
			t.High = app.Thresholds.High
		}
		if app.Thresholds.Medium != 0 {
			t.Medium = app.Thresholds.Medium
		}
	}
	return t
}
