package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	minWorkers = 1
	maxWorkers = 16
)

// DefaultEndpoints is the resolution pool used when ENDPOINTS is not set.
var DefaultEndpoints = []string{
	"http://api.xingchenfu.xyz/API/hssp.php",
	"http://api.xingchenfu.xyz/API/wmsc.php",
	"http://api.xingchenfu.xyz/API/tianmei.php",
	"http://api.xingchenfu.xyz/API/cdxl.php",
	"http://api.xingchenfu.xyz/API/yzxl.php",
	"http://api.xingchenfu.xyz/API/rwsp.php",
	"http://api.xingchenfu.xyz/API/nvda.php",
	"http://api.xingchenfu.xyz/API/bsxl.php",
	"http://api.xingchenfu.xyz/API/zzxjj.php",
	"http://api.xingchenfu.xyz/API/qttj.php",
	"http://api.xingchenfu.xyz/API/xqtj.php",
	"http://api.xingchenfu.xyz/API/sktj.php",
	"http://api.xingchenfu.xyz/API/cossp.php",
	"http://api.xingchenfu.xyz/API/xiaohulu.php",
	"http://api.xingchenfu.xyz/API/manhuay.php",
	"http://api.xingchenfu.xyz/API/bianzhuang.php",
	"http://api.xingchenfu.xyz/API/jk.php",
	"https://www.hhlqilongzhu.cn/api/MP4_xiaojiejie.php",
	"https://v.api.aa1.cn/api/api-video-qing-chun/index.php",
	"https://api.yujn.cn/api/zzxjj.php?type=video",
	"https://api.jkyai.top/API/jxhssp.php",
	"https://api.jkyai.top/API/jxbssp.php",
	"https://api.jkyai.top/API/rmtmsp/api.php",
	"https://api.jkyai.top/API/qcndxl.php",
}

// Tier is a connect/read timeout pair for one class of request.
type Tier struct {
	Connect time.Duration
	Read    time.Duration
}

// Config struct for environment variables.
type Config struct {
	OutputDir     string `envconfig:"OUTPUT_DIR" default:"downloads"`
	FallbackDir   string `envconfig:"FALLBACK_DIR" default:"video_downloads"`
	DateSubdir    bool   `envconfig:"DATE_SUBDIR" default:"false"`
	DateDirPrefix string `envconfig:"DATE_DIR_PREFIX" default:"media"`

	Workers      int `envconfig:"WORKERS" default:"3"`
	MaxDownloads int `envconfig:"MAX_DOWNLOADS" default:"0"`

	Endpoints         []string `envconfig:"ENDPOINTS"`
	InsecureEndpoints []string `envconfig:"INSECURE_ENDPOINTS"`

	FailureThreshold  int     `envconfig:"FAILURE_THRESHOLD" default:"5"`
	CompletenessRatio float64 `envconfig:"COMPLETENESS_RATIO" default:"0.8"`
	ChunkSize         int     `envconfig:"CHUNK_SIZE" default:"8192"`
	HashAlgorithm     string  `envconfig:"HASH_ALGORITHM" default:"md5"`

	ResolveConnectTimeout  time.Duration `envconfig:"RESOLVE_CONNECT_TIMEOUT" default:"2s"`
	ResolveReadTimeout     time.Duration `envconfig:"RESOLVE_READ_TIMEOUT" default:"5s"`
	ProbeConnectTimeout    time.Duration `envconfig:"PROBE_CONNECT_TIMEOUT" default:"3s"`
	ProbeReadTimeout       time.Duration `envconfig:"PROBE_READ_TIMEOUT" default:"8s"`
	TransferConnectTimeout time.Duration `envconfig:"TRANSFER_CONNECT_TIMEOUT" default:"5s"`
	TransferReadTimeout    time.Duration `envconfig:"TRANSFER_READ_TIMEOUT" default:"30s"`

	RetryMax     uint          `envconfig:"RETRY_MAX" default:"1"`
	RetryBackoff time.Duration `envconfig:"RETRY_BACKOFF" default:"300ms"`

	NoEndpointPause  time.Duration `envconfig:"NO_ENDPOINT_PAUSE" default:"2s"`
	DownloadPause    time.Duration `envconfig:"DOWNLOAD_PAUSE" default:"100ms"`
	ResolveMissPause time.Duration `envconfig:"RESOLVE_MISS_PAUSE" default:"500ms"`
	PanicPause       time.Duration `envconfig:"PANIC_PAUSE" default:"1s"`
	StatusInterval   time.Duration `envconfig:"STATUS_INTERVAL" default:"1s"`

	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath            string        `envconfig:"DB_PATH"`
	KeepDownloadedFor time.Duration `envconfig:"KEEP_DOWNLOADED_FOR" default:"0"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"media_fetcher"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = append([]string(nil), DefaultEndpoints...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the engine knobs that have no safe interpretation outside their range.
func (c *Config) Validate() error {
	var errs []error

	if c.Workers < minWorkers || c.Workers > maxWorkers {
		errs = append(errs, fmt.Errorf("workers must be between %d and %d, got %d", minWorkers, maxWorkers, c.Workers))
	}

	if c.MaxDownloads < 0 {
		errs = append(errs, fmt.Errorf("max downloads cannot be negative, got %d", c.MaxDownloads))
	}

	if c.CompletenessRatio <= 0 || c.CompletenessRatio > 1 {
		errs = append(errs, fmt.Errorf("completeness ratio must be in (0, 1], got %v", c.CompletenessRatio))
	}

	if c.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("failure threshold must be positive, got %d", c.FailureThreshold))
	}

	if c.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize))
	}

	switch strings.ToLower(c.HashAlgorithm) {
	case "md5", "sha256":
	default:
		errs = append(errs, fmt.Errorf("unsupported hash algorithm %q", c.HashAlgorithm))
	}

	if len(c.Endpoints) == 0 {
		errs = append(errs, errors.New("at least one endpoint is required"))
	}

	return errors.Join(errs...)
}

// ResolveTier is the timeout pair used for endpoint calls.
func (c *Config) ResolveTier() Tier {
	return Tier{Connect: c.ResolveConnectTimeout, Read: c.ResolveReadTimeout}
}

// ProbeTier is the timeout pair used for metadata probes.
func (c *Config) ProbeTier() Tier {
	return Tier{Connect: c.ProbeConnectTimeout, Read: c.ProbeReadTimeout}
}

// TransferTier is the timeout pair used for bulk transfers; Read is the idle limit between chunks.
func (c *Config) TransferTier() Tier {
	return Tier{Connect: c.TransferConnectTimeout, Read: c.TransferReadTimeout}
}

// TargetDir returns the output directory, with the dated subdirectory applied when enabled.
func (c *Config) TargetDir(now time.Time) string {
	if !c.DateSubdir {
		return c.OutputDir
	}

	return filepath.Join(c.OutputDir, DatedDirName(c.DateDirPrefix, now))
}

// DatedDirName builds the "<prefix>_YYYYMMDD" directory name for the UTC day of now.
func DatedDirName(prefix string, now time.Time) string {
	return prefix + "_" + now.UTC().Format("20060102")
}

// LedgerPath returns the SQLite ledger location for the given output directory.
func (c *Config) LedgerPath(outputDir string) string {
	if c.DBPath != "" {
		return c.DBPath
	}

	return filepath.Join(outputDir, "ledger.db")
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
