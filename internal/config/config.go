package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arlowright/oddcrawl/internal/frontier"
	"github.com/arlowright/oddcrawl/internal/safety"
	"github.com/arlowright/oddcrawl/internal/scoring"
	"github.com/arlowright/oddcrawl/internal/storage"
	"github.com/arlowright/oddcrawl/internal/triage"
	"github.com/arlowright/oddcrawl/pkg/retry"
	"github.com/arlowright/oddcrawl/pkg/timeutil"
)

// Config is the immutable, validated configuration for one crawl run.
// Build it with WithDefault + With* chaining, or load the full YAML
// surface with WithConfigFile.
type Config struct {
	//===============
	//  Crawl
	//===============
	// Initial pages handed to the frontier on startup.
	seedURLs []url.URL
	// User agent presented to remote hosts and used for robots.txt matching.
	userAgent string
	// Maximum time of a single fetch request.
	downloadTimeout time.Duration
	// Whether robots.txt disallow rules are honored before fetching.
	obeyRobotsTxt bool
	// Per-host politeness budget; drives the frontier token-bucket refill.
	perHostRequestsPerMinute float64
	// Maximum retry attempts for transient fetch errors.
	retries int
	// Linear backoff bounds between retry attempts, in seconds.
	errorBackoffLow  float64
	errorBackoffHigh float64
	// Whether the Tor/proxy connector may be used at all.
	allowTorConnector bool
	// Tor politeness gate and blocklist knobs.
	torGate safety.GateSettings

	//===============
	// Frontier
	//===============
	frontierSettings frontier.Settings

	//===============
	// Triage
	//===============
	cascadeSettings   triage.Settings
	prefilterSettings triage.PrefilterSettings

	//===============
	// Scoring
	//===============
	scoringWeights scoring.Weights

	//===============
	// Storage
	//===============
	// Root directory of the global storage layout (raw_html, excerpts, ...).
	baseDir         string
	storageSettings storage.Settings

	//===============
	// Safety
	//===============
	illegalKeywords   []string
	minKeywordMatches int

	//===============
	// Run loop
	//===============
	// Per-run state directory (state/, telemetry.jsonl, reports/).
	runDir string
	// Steps between checkpoints.
	checkpointInterval int
	// Failure-cache entry TTL in seconds.
	failureCacheSeconds float64
	// Maximum pages to process; 0 means unlimited.
	maxPages int
	// Whether the run simulates without writing storage artifacts.
	dryRun bool
}

func (c Config) SeedURLs() []url.URL {
	urls := make([]url.URL, len(c.seedURLs))
	copy(urls, c.seedURLs)
	return urls
}

func (c Config) UserAgent() string {
	return c.userAgent
}

func (c Config) DownloadTimeout() time.Duration {
	return c.downloadTimeout
}

func (c Config) ObeyRobotsTxt() bool {
	return c.obeyRobotsTxt
}

func (c Config) PerHostRequestsPerMinute() float64 {
	return c.perHostRequestsPerMinute
}

func (c Config) Retries() int {
	return c.retries
}

func (c Config) ErrorBackoffSeconds() (float64, float64) {
	return c.errorBackoffLow, c.errorBackoffHigh
}

func (c Config) AllowTorConnector() bool {
	return c.allowTorConnector
}

func (c Config) TorGateSettings() safety.GateSettings {
	return c.torGate
}

func (c Config) FrontierSettings() frontier.Settings {
	return c.frontierSettings
}

func (c Config) CascadeSettings() triage.Settings {
	return c.cascadeSettings
}

func (c Config) PrefilterSettings() triage.PrefilterSettings {
	return c.prefilterSettings
}

func (c Config) ScoringWeights() scoring.Weights {
	return c.scoringWeights
}

func (c Config) BaseDir() string {
	return c.baseDir
}

func (c Config) StorageSettings() storage.Settings {
	return c.storageSettings
}

func (c Config) IllegalKeywords() []string {
	keywords := make([]string, len(c.illegalKeywords))
	copy(keywords, c.illegalKeywords)
	return keywords
}

func (c Config) MinKeywordMatches() int {
	return c.minKeywordMatches
}

func (c Config) RunDir() string {
	return c.runDir
}

func (c Config) CheckpointInterval() int {
	return c.checkpointInterval
}

func (c Config) FailureCacheSeconds() float64 {
	return c.failureCacheSeconds
}

func (c Config) MaxPages() int {
	return c.maxPages
}

func (c Config) DryRun() bool {
	return c.dryRun
}

// RetryParam derives the fetch layer's retry settings from the crawl
// section: linear backoff bounded by error_backoff_seconds, retries
// attempts beyond the first.
func (c Config) RetryParam() retry.RetryParam {
	low := time.Duration(c.errorBackoffLow * float64(time.Second))
	high := time.Duration(c.errorBackoffHigh * float64(time.Second))
	return retry.NewRetryParam(
		low,
		low/2,
		0,
		c.retries+1,
		timeutil.NewBackoffParam(low, 1.0, high),
	)
}

// WithDefault creates a new Config with the provided seed URLs and default
// values for all other fields. seedUrls is mandatory and must not be empty -
// Build will return an error if it is.
func WithDefault(seedUrls []url.URL) *Config {
	frontierSettings := frontier.DefaultSettings()
	// host_refill_seconds is derived from the per-host RPM budget.
	frontierSettings.HostRefillSeconds = 60.0 / 6.0

	defaultConfig := Config{
		seedURLs:                 seedUrls,
		userAgent:                "oddcrawl/1.0",
		downloadTimeout:          20 * time.Second,
		obeyRobotsTxt:            true,
		perHostRequestsPerMinute: 6,
		retries:                  2,
		errorBackoffLow:          1,
		errorBackoffHigh:         10,
		allowTorConnector:        false,
		torGate:                  safety.DefaultGateSettings(),

		frontierSettings: frontierSettings,

		cascadeSettings:   triage.DefaultSettings(),
		prefilterSettings: triage.DefaultPrefilterSettings(),

		scoringWeights: scoring.DefaultWeights(),

		baseDir:         "data",
		storageSettings: storage.DefaultSettings(),

		illegalKeywords:   []string{},
		minKeywordMatches: 1,

		runDir:              "runs/current",
		checkpointInterval:  25,
		failureCacheSeconds: 7 * 24 * 3600,
		maxPages:            0,
		dryRun:              false,
	}
	return &defaultConfig
}

func (c *Config) WithSeedUrls(urls []url.URL) *Config {
	c.seedURLs = urls
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithDownloadTimeout(timeout time.Duration) *Config {
	c.downloadTimeout = timeout
	return c
}

func (c *Config) WithObeyRobotsTxt(obey bool) *Config {
	c.obeyRobotsTxt = obey
	return c
}

func (c *Config) WithPerHostRequestsPerMinute(rpm float64) *Config {
	c.perHostRequestsPerMinute = rpm
	if rpm > 0 {
		c.frontierSettings.HostRefillSeconds = 60.0 / rpm
	}
	return c
}

func (c *Config) WithRetries(retries int) *Config {
	c.retries = retries
	return c
}

func (c *Config) WithErrorBackoffSeconds(low, high float64) *Config {
	c.errorBackoffLow = low
	c.errorBackoffHigh = high
	return c
}

func (c *Config) WithAllowTorConnector(allow bool) *Config {
	c.allowTorConnector = allow
	return c
}

func (c *Config) WithTorGateSettings(settings safety.GateSettings) *Config {
	c.torGate = settings
	return c
}

func (c *Config) WithFrontierSettings(settings frontier.Settings) *Config {
	c.frontierSettings = settings
	return c
}

func (c *Config) WithCascadeSettings(settings triage.Settings) *Config {
	c.cascadeSettings = settings
	return c
}

func (c *Config) WithPrefilterSettings(settings triage.PrefilterSettings) *Config {
	c.prefilterSettings = settings
	return c
}

func (c *Config) WithScoringWeights(weights scoring.Weights) *Config {
	c.scoringWeights = weights
	return c
}

func (c *Config) WithBaseDir(dir string) *Config {
	c.baseDir = dir
	return c
}

func (c *Config) WithStorageSettings(settings storage.Settings) *Config {
	c.storageSettings = settings
	return c
}

func (c *Config) WithIllegalKeywords(keywords []string, minMatches int) *Config {
	c.illegalKeywords = keywords
	c.minKeywordMatches = minMatches
	return c
}

func (c *Config) WithRunDir(dir string) *Config {
	c.runDir = dir
	return c
}

func (c *Config) WithCheckpointInterval(interval int) *Config {
	c.checkpointInterval = interval
	return c
}

func (c *Config) WithFailureCacheSeconds(seconds float64) *Config {
	c.failureCacheSeconds = seconds
	return c
}

func (c *Config) WithMaxPages(pages int) *Config {
	c.maxPages = pages
	return c
}

func (c *Config) WithDryRun(dryRun bool) *Config {
	c.dryRun = dryRun
	return c
}

// Build validates the assembled configuration and returns the final
// immutable Config value.
func (c *Config) Build() (Config, error) {
	if len(c.seedURLs) == 0 {
		return Config{}, fmt.Errorf("%w: at least one seed URL is required", ErrInvalidConfig)
	}
	for _, u := range c.seedURLs {
		if u.Scheme != "http" && u.Scheme != "https" {
			return Config{}, fmt.Errorf("%w: seed URL %q has unsupported scheme %q", ErrInvalidConfig, u.String(), u.Scheme)
		}
		if u.Host == "" {
			return Config{}, fmt.Errorf("%w: seed URL %q has no host", ErrInvalidConfig, u.String())
		}
	}
	if c.userAgent == "" {
		return Config{}, fmt.Errorf("%w: user agent must not be empty", ErrInvalidConfig)
	}
	if c.downloadTimeout <= 0 {
		return Config{}, fmt.Errorf("%w: download timeout must be positive", ErrInvalidConfig)
	}
	if c.perHostRequestsPerMinute <= 0 {
		return Config{}, fmt.Errorf("%w: per_host_requests_per_minute must be positive", ErrInvalidConfig)
	}
	if c.retries < 0 {
		return Config{}, fmt.Errorf("%w: retries must not be negative", ErrInvalidConfig)
	}
	if c.errorBackoffLow < 0 || c.errorBackoffHigh < c.errorBackoffLow {
		return Config{}, fmt.Errorf("%w: error_backoff_seconds must be [low, high] with 0 <= low <= high", ErrInvalidConfig)
	}
	if c.checkpointInterval <= 0 {
		return Config{}, fmt.Errorf("%w: checkpoint interval must be positive", ErrInvalidConfig)
	}
	if c.failureCacheSeconds <= 0 {
		return Config{}, fmt.Errorf("%w: failure_cache_seconds must be positive", ErrInvalidConfig)
	}
	if c.runDir == "" {
		return Config{}, fmt.Errorf("%w: run directory must not be empty", ErrInvalidConfig)
	}
	if c.baseDir == "" {
		return Config{}, fmt.Errorf("%w: storage base directory must not be empty", ErrInvalidConfig)
	}
	if c.minKeywordMatches < 1 {
		return Config{}, fmt.Errorf("%w: min_keyword_matches must be at least 1", ErrInvalidConfig)
	}
	return *c, nil
}

// WithConfigFile loads the full YAML configuration surface from path,
// layered over WithDefault's values so partial files stay valid.
func WithConfigFile(path string) (Config, error) {
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}

	dto := configDTO{}
	if err := yaml.Unmarshal(configContent, &dto); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	return newConfigFromDTO(dto)
}
