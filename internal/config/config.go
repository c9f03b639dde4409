package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration.
type Config struct {
	Port          int
	DBPath        string
	DownloadDir   string
	LocationsPath string
	TesseractPath string

	PoolSize       int
	MaxConcurrent  int
	PollInterval   time.Duration
	Retention      time.Duration
	SweepInterval  time.Duration
	Headless       bool
	PortalURL      string
	StageRetries   int
	CaptchaRetries int
}

// fileConfig is the optional TOML layer; zero values mean "not set".
type fileConfig struct {
	Port          int    `toml:"port"`
	DBPath        string `toml:"db_path"`
	DownloadDir   string `toml:"download_dir"`
	LocationsPath string `toml:"locations_path"`
	TesseractPath string `toml:"tesseract_path"`

	Portal struct {
		URL            string `toml:"url"`
		PoolSize       int    `toml:"pool_size"`
		MaxConcurrent  int    `toml:"max_concurrent_jobs"`
		Headless       *bool  `toml:"headless"`
		StageRetries   int    `toml:"stage_retries"`
		CaptchaRetries int    `toml:"captcha_retries"`
	} `toml:"portal"`

	Jobs struct {
		PollInterval  duration `toml:"poll_interval"`
		Retention     duration `toml:"retention"`
		SweepInterval duration `toml:"sweep_interval"`
	} `toml:"jobs"`
}

// duration lets TOML carry values like "5s" or "24h".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "igrfetch", "jobs.db")
}

// DefaultDownloadDir returns the default document output directory.
func DefaultDownloadDir() string {
	return "downloads"
}

const defaultPortalURL = "https://freesearchigrservice.maharashtra.gov.in/"

// Load parses flags, an optional config file, and environment to build
// Config. Precedence: defaults < file < flags < env.
func Load() (*Config, error) {
	cfg := &Config{}
	var filePath string

	flag.StringVar(&filePath, "config", "", "Optional TOML config file")
	flag.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	flag.StringVar(&cfg.DBPath, "db", DefaultDBPath(), "SQLite database path")
	flag.StringVar(&cfg.DownloadDir, "download-dir", DefaultDownloadDir(), "Document output directory")
	flag.StringVar(&cfg.LocationsPath, "locations", "maharashtra_locations.json", "Location data JSON file")
	flag.StringVar(&cfg.TesseractPath, "tesseract", "tesseract", "Tesseract OCR binary")
	flag.IntVar(&cfg.PoolSize, "pool-size", 3, "Maximum idle browser sessions")
	flag.IntVar(&cfg.MaxConcurrent, "max-concurrent-jobs", 2, "Maximum jobs executed concurrently")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", 5*time.Second, "Job dispatch poll interval")
	flag.DurationVar(&cfg.Retention, "retention", 24*time.Hour, "Job retention window")
	flag.DurationVar(&cfg.SweepInterval, "sweep-interval", time.Hour, "Retention sweep interval")
	flag.BoolVar(&cfg.Headless, "headless", true, "Run Chrome headless")
	flag.StringVar(&cfg.PortalURL, "portal-url", defaultPortalURL, "Search portal URL")
	flag.IntVar(&cfg.StageRetries, "stage-retries", 3, "Retries per form stage")
	flag.IntVar(&cfg.CaptchaRetries, "captcha-retries", 5, "CAPTCHA solve attempts")
	flag.Parse()

	// File values only fill in settings the user did not pass explicitly.
	setFlags := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	if env := os.Getenv("IGRFETCH_CONFIG"); env != "" {
		filePath = env
	}
	if filePath != "" {
		if err := applyFile(cfg, filePath, setFlags); err != nil {
			return nil, err
		}
	}

	// Env overrides
	if port := os.Getenv("IGRFETCH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if db := os.Getenv("IGRFETCH_DB"); db != "" {
		cfg.DBPath = db
	}
	if dir := os.Getenv("IGRFETCH_DOWNLOAD_DIR"); dir != "" {
		cfg.DownloadDir = dir
	}
	if url := os.Getenv("IGRFETCH_PORTAL_URL"); url != "" {
		cfg.PortalURL = url
	}

	return cfg, nil
}

// applyFile layers file values onto cfg, skipping any setting whose flag was
// passed on the command line so explicit flags beat the file.
func applyFile(cfg *Config, path string, setFlags map[string]bool) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	if fc.Port != 0 && !setFlags["port"] {
		cfg.Port = fc.Port
	}
	if fc.DBPath != "" && !setFlags["db"] {
		cfg.DBPath = fc.DBPath
	}
	if fc.DownloadDir != "" && !setFlags["download-dir"] {
		cfg.DownloadDir = fc.DownloadDir
	}
	if fc.LocationsPath != "" && !setFlags["locations"] {
		cfg.LocationsPath = fc.LocationsPath
	}
	if fc.TesseractPath != "" && !setFlags["tesseract"] {
		cfg.TesseractPath = fc.TesseractPath
	}
	if fc.Portal.URL != "" && !setFlags["portal-url"] {
		cfg.PortalURL = fc.Portal.URL
	}
	if fc.Portal.PoolSize != 0 && !setFlags["pool-size"] {
		cfg.PoolSize = fc.Portal.PoolSize
	}
	if fc.Portal.MaxConcurrent != 0 && !setFlags["max-concurrent-jobs"] {
		cfg.MaxConcurrent = fc.Portal.MaxConcurrent
	}
	if fc.Portal.Headless != nil && !setFlags["headless"] {
		cfg.Headless = *fc.Portal.Headless
	}
	if fc.Portal.StageRetries != 0 && !setFlags["stage-retries"] {
		cfg.StageRetries = fc.Portal.StageRetries
	}
	if fc.Portal.CaptchaRetries != 0 && !setFlags["captcha-retries"] {
		cfg.CaptchaRetries = fc.Portal.CaptchaRetries
	}
	if fc.Jobs.PollInterval != 0 && !setFlags["poll-interval"] {
		cfg.PollInterval = time.Duration(fc.Jobs.PollInterval)
	}
	if fc.Jobs.Retention != 0 && !setFlags["retention"] {
		cfg.Retention = time.Duration(fc.Jobs.Retention)
	}
	if fc.Jobs.SweepInterval != 0 && !setFlags["sweep-interval"] {
		cfg.SweepInterval = time.Duration(fc.Jobs.SweepInterval)
	}
	return nil
}
