package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arlowright/oddcrawl/internal/build"
	"github.com/arlowright/oddcrawl/internal/config"
	"github.com/arlowright/oddcrawl/internal/metadata"
	"github.com/arlowright/oddcrawl/internal/runloop"
)

var (
	cfgFile            string
	seedURLs           []string
	runDir             string
	baseDir            string
	maxPages           int
	userAgent          string
	timeout            time.Duration
	perHostRPM         float64
	obeyRobots         bool
	checkpointInterval int
	metricsAddr        string
	dryRun             bool
)

// parseSeedURLs converts a string slice of URLs to []url.URL
func parseSeedURLs(urlStrings []string) ([]url.URL, error) {
	if len(urlStrings) == 0 {
		return nil, fmt.Errorf("seed URLs cannot be empty")
	}

	var urls []url.URL
	for _, urlStr := range urlStrings {
		parsedURL, err := url.Parse(urlStr)
		if err != nil {
			return nil, fmt.Errorf("error parsing seed URL %s: %w", urlStr, err)
		}
		urls = append(urls, *parsedURL)
	}
	return urls, nil
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "oddcrawl",
	Short: "A polite crawler that hunts for odd corners of the web.",
	Long: `oddcrawl is a long-running, polite web crawler that discovers and
ranks small, retro, or unusual sites from a seed list. It schedules hosts
with a bandit-driven priority frontier under token-bucket politeness, runs
a staged triage cascade to discard uninteresting pages cheaply, fuses
structural and graph features into an oddness score, and maintains a
persistent link graph with per-page metrics.

Runs checkpoint their frontier, failure cache, and metrics so the process
can be stopped with SIGINT/SIGTERM and resumed without re-fetch storms.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := InitConfigWithError()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			cmd.Usage()
			os.Exit(1)
		}

		// Display configuration for verification
		fmt.Printf("Configuration initialized successfully\n")
		var urls []string
		for _, u := range cfg.SeedURLs() {
			urls = append(urls, u.String())
		}
		fmt.Printf("Seed URLs: %s\n", strings.Join(urls, ", "))
		fmt.Printf("Run Directory: %s\n", cfg.RunDir())
		fmt.Printf("Storage Base Directory: %s\n", cfg.BaseDir())
		fmt.Printf("User Agent: %s\n", cfg.UserAgent())
		fmt.Printf("Obey robots.txt: %t\n", cfg.ObeyRobotsTxt())
		fmt.Printf("Per-host RPM: %v\n", cfg.PerHostRequestsPerMinute())
		fmt.Printf("Max Pages: %d\n", cfg.MaxPages())
		fmt.Printf("Checkpoint Interval: %d\n", cfg.CheckpointInterval())
		fmt.Printf("Dry Run: %t\n", cfg.DryRun())

		return runCrawl(cfg)
	},
}

func runCrawl(cfg config.Config) error {
	recorder := metadata.NewRecorder(nil)

	loop, err := runloop.New(cfg, recorder)
	if err != nil {
		return fmt.Errorf("failed to initialize run loop: %w", err)
	}
	defer loop.Close()

	loop.Seed(cfg.SeedURLs())

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", loop.PromHandler())
		server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			_ = server.ListenAndServe()
		}()
		defer server.Close()
	}

	// A stop signal lets the current step finish, then one final
	// checkpoint runs before exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return loop.Run(ctx)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = build.FullVersion()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "YAML config file path (e.g., /home/myuser/oddcrawl.yaml)")
	rootCmd.PersistentFlags().StringArrayVar(&seedURLs, "seed-url", []string{}, "one or more starting URLs (can be repeated)")
	rootCmd.PersistentFlags().StringVar(&runDir, "run-dir", "", "per-run state directory (frontier snapshot, telemetry, reports)")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "", "global storage directory (raw_html, excerpts, graphs)")
	rootCmd.PersistentFlags().IntVar(&maxPages, "max-pages", 0, "maximum number of pages to process (0 for unlimited)")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "user agent string for HTTP requests")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "timeout for HTTP requests")
	rootCmd.PersistentFlags().Float64Var(&perHostRPM, "per-host-rpm", 0, "per-host request budget in requests per minute")
	rootCmd.PersistentFlags().BoolVar(&obeyRobots, "obey-robots", true, "honor robots.txt disallow rules")
	rootCmd.PersistentFlags().IntVar(&checkpointInterval, "checkpoint-interval", 0, "steps between state checkpoints")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to expose Prometheus /metrics on (empty to disable)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "crawl without writing storage artifacts")
}

// InitConfig reads the config file or CLI flags into a validated Config.
func InitConfig() config.Config {
	cfg, err := InitConfigWithError()
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}
	return cfg
}

// InitConfigWithError reads the config file when given, otherwise builds
// the config from CLI flags. This makes it easier to test error cases.
func InitConfigWithError() (config.Config, error) {
	if cfgFile != "" {
		fmt.Printf("Initializing config from file: %s\n", cfgFile)
		cfg, err := config.WithConfigFile(cfgFile)
		if err != nil {
			return cfg, fmt.Errorf("error initializing config from file: %w", err)
		}
		return cfg, nil
	}

	fmt.Println("No config file specified. Using default flag values")

	parsedURLs, err := parseSeedURLs(seedURLs)
	if err != nil {
		return config.Config{}, fmt.Errorf("%w: %s", config.ErrInvalidConfig, err.Error())
	}

	// Start with default config using provided seed URLs and apply
	// overrides using method chaining
	configBuilder := config.WithDefault(parsedURLs)

	if runDir != "" {
		configBuilder = configBuilder.WithRunDir(runDir)
	}

	if baseDir != "" {
		configBuilder = configBuilder.WithBaseDir(baseDir)
	}

	if maxPages > 0 {
		configBuilder = configBuilder.WithMaxPages(maxPages)
	}

	if userAgent != "" {
		configBuilder = configBuilder.WithUserAgent(userAgent)
	}

	if timeout > 0 {
		configBuilder = configBuilder.WithDownloadTimeout(timeout)
	}

	if perHostRPM > 0 {
		configBuilder = configBuilder.WithPerHostRequestsPerMinute(perHostRPM)
	}

	configBuilder = configBuilder.WithObeyRobotsTxt(obeyRobots)

	if checkpointInterval > 0 {
		configBuilder = configBuilder.WithCheckpointInterval(checkpointInterval)
	}

	if dryRun {
		configBuilder = configBuilder.WithDryRun(dryRun)
	}

	cfg, err := configBuilder.Build()
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func ResetFlags() {
	cfgFile = ""
	seedURLs = []string{}
	runDir = ""
	baseDir = ""
	maxPages = 0
	userAgent = ""
	timeout = 0
	perHostRPM = 0
	obeyRobots = true
	checkpointInterval = 0
	metricsAddr = ""
	dryRun = false
}

// Test helper functions to set flag values from tests
func SetConfigFileForTest(path string) {
	cfgFile = path
}

func SetSeedURLsForTest(urls []string) {
	seedURLs = urls
}

func SetRunDirForTest(dir string) {
	runDir = dir
}

func SetBaseDirForTest(dir string) {
	baseDir = dir
}

func SetMaxPagesForTest(pages int) {
	maxPages = pages
}

func SetUserAgentForTest(agent string) {
	userAgent = agent
}

func SetTimeoutForTest(t time.Duration) {
	timeout = t
}

func SetPerHostRPMForTest(rpm float64) {
	perHostRPM = rpm
}

func SetObeyRobotsForTest(obey bool) {
	obeyRobots = obey
}

func SetCheckpointIntervalForTest(interval int) {
	checkpointInterval = interval
}

func SetDryRunForTest(dry bool) {
	dryRun = dry
}
