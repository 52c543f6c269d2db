package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PaperSize describes a page format in inches.
type PaperSize struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// Config is the full service configuration loaded from YAML.
type Config struct {
	Server struct {
		Host        string `yaml:"host"`
		Port        string `yaml:"port"`
		Prefork     bool   `yaml:"prefork"`
		BodyLimitMB int    `yaml:"body_limit_mb"`
	} `yaml:"server"`

	Limits struct {
		MaxHTMLBytes int `yaml:"max_html_bytes"`
		MaxPDFBytes  int `yaml:"max_pdf_bytes"`
	} `yaml:"limits"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		PDFCacheEnabled bool          `yaml:"pdf_cache_enabled"`
		PDFCacheTTL     time.Duration `yaml:"pdf_cache_ttl"`
		RedisHost       string        `yaml:"redis_host"`
		RateLimitDB     int           `yaml:"redis_rate_db"`
		PDFCacheDB      int           `yaml:"redis_pdf_db"`
	} `yaml:"cache"`

	RateLimiter struct {
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
		UserLimit         int           `yaml:"user_limit"`
		Interval          time.Duration `yaml:"interval"`
		UseRedis          bool          `yaml:"use_redis"`
	} `yaml:"rate_limiter"`

	PDF struct {
		DefaultPaper    string               `yaml:"default_paper"`
		PaperSizes      map[string]PaperSize `yaml:"paper_sizes"`
		MarginPx        float64              `yaml:"margin_px"`
		TimeoutSecs     int                  `yaml:"timeout_secs"`
		ChromePath      string               `yaml:"chrome_path"`
		ChromeNoSandbox bool                 `yaml:"chrome_no_sandbox"`
		ChromePoolSize  int                  `yaml:"chrome_pool_size"`
		UserDataDir     string               `yaml:"user_data_dir"`
	} `yaml:"pdf"`

	Print struct {
		LPCommand     string `yaml:"lp_command"`
		LpstatCommand string `yaml:"lpstat_command"`
		TimeoutSecs   int    `yaml:"timeout_secs"`
		SpoolDir      string `yaml:"spool_dir"`
	} `yaml:"print"`
}

// DefaultPaperSizes mirrors the named formats Chrome's print pipeline understands.
func DefaultPaperSizes() map[string]PaperSize {
	return map[string]PaperSize{
		"LETTER":  {Width: 8.5, Height: 11},
		"LEGAL":   {Width: 8.5, Height: 14},
		"TABLOID": {Width: 11, Height: 17},
		"LEDGER":  {Width: 17, Height: 11},
		"A0":      {Width: 33.1, Height: 46.8},
		"A1":      {Width: 23.4, Height: 33.1},
		"A2":      {Width: 16.54, Height: 23.4},
		"A3":      {Width: 11.7, Height: 16.54},
		"A4":      {Width: 8.27, Height: 11.7},
		"A5":      {Width: 5.83, Height: 8.27},
		"A6":      {Width: 4.13, Height: 5.83},
	}
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	var cfg Config
	cfg.Server.Host = ""
	cfg.Server.Port = ":3000"
	cfg.Server.BodyLimitMB = 50

	cfg.Limits.MaxHTMLBytes = 50 * 1024 * 1024
	cfg.Limits.MaxPDFBytes = 50 * 1024 * 1024

	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7

	cfg.Cache.PDFCacheTTL = 10 * time.Minute
	cfg.Cache.RedisHost = "127.0.0.1:6379"
	cfg.Cache.PDFCacheDB = 1

	cfg.RateLimiter.Interval = time.Minute

	cfg.PDF.DefaultPaper = "A4"
	cfg.PDF.PaperSizes = DefaultPaperSizes()
	cfg.PDF.MarginPx = 20
	cfg.PDF.TimeoutSecs = 60
	cfg.PDF.ChromeNoSandbox = true

	cfg.Print.LPCommand = "lp"
	cfg.Print.LpstatCommand = "lpstat"
	cfg.Print.TimeoutSecs = 30
	return cfg
}

// LoadConfig reads the file named by CONFIG_PATH (default config.yaml).
func LoadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads the YAML file at path on top of DefaultConfig. A missing
// file yields the defaults; unreadable or invalid configuration panics.
func LoadFrom(path string) Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("failed to parse config %s: %v", path, err))
		}
	case os.IsNotExist(err):
	default:
		panic(fmt.Sprintf("failed to read config %s: %v", path, err))
	}

	if v := os.Getenv("CHROME_BIN"); v != "" && cfg.PDF.ChromePath == "" {
		cfg.PDF.ChromePath = v
	}

	normalizePaperSizes(&cfg)
	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}
	return cfg
}

func normalizePaperSizes(cfg *Config) {
	sizes := make(map[string]PaperSize, len(cfg.PDF.PaperSizes))
	for name, size := range cfg.PDF.PaperSizes {
		sizes[strings.ToUpper(name)] = size
	}
	cfg.PDF.PaperSizes = sizes
	cfg.PDF.DefaultPaper = strings.ToUpper(cfg.PDF.DefaultPaper)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.BodyLimitMB <= 0 {
		return fmt.Errorf("server.body_limit_mb must be positive, got %d", c.Server.BodyLimitMB)
	}
	if c.Limits.MaxHTMLBytes <= 0 || c.Limits.MaxPDFBytes <= 0 {
		return fmt.Errorf("limits must be positive")
	}
	if c.PDF.TimeoutSecs <= 0 {
		return fmt.Errorf("pdf.timeout_secs must be positive, got %d", c.PDF.TimeoutSecs)
	}
	if c.PDF.ChromePoolSize < 0 {
		return fmt.Errorf("pdf.chrome_pool_size must be non-negative")
	}
	if c.PDF.MarginPx < 0 {
		return fmt.Errorf("pdf.margin_px must be non-negative")
	}
	if _, ok := c.PDF.PaperSizes[c.PDF.DefaultPaper]; !ok {
		return fmt.Errorf("pdf.default_paper %q is not a configured paper size", c.PDF.DefaultPaper)
	}
	if c.Print.LPCommand == "" || c.Print.LpstatCommand == "" {
		return fmt.Errorf("print.lp_command and print.lpstat_command are required")
	}
	if c.Print.TimeoutSecs <= 0 {
		return fmt.Errorf("print.timeout_secs must be positive, got %d", c.Print.TimeoutSecs)
	}
	if c.RateLimiter.UserLimit < 0 {
		return fmt.Errorf("rate_limiter.user_limit must be non-negative")
	}
	if c.RateLimiter.UserLimit > 0 && c.RateLimiter.Interval <= 0 {
		return fmt.Errorf("rate_limiter.interval must be positive when user_limit is set")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return c.Server.Host + c.Server.Port
}

// BodyLimit returns the request body limit in bytes.
func (c Config) BodyLimit() int {
	return c.Server.BodyLimitMB * 1024 * 1024
}
