package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/arlowright/oddcrawl/internal/storage"
)

// configDTO mirrors the on-disk YAML configuration surface. Every field is
// optional: zero values fall back to WithDefault's defaults so partial
// files stay valid.
type configDTO struct {
	Crawl struct {
		SeedURLs                 []string  `yaml:"seed_urls"`
		UserAgent                string    `yaml:"user_agent"`
		DownloadTimeoutSeconds   float64   `yaml:"download_timeout_seconds"`
		ObeyRobotsTxt            *bool     `yaml:"obey_robots_txt"`
		PerHostRequestsPerMinute float64   `yaml:"per_host_requests_per_minute"`
		Retries                  *int      `yaml:"retries"`
		ErrorBackoffSeconds      []float64 `yaml:"error_backoff_seconds"`
		AllowTorConnector        bool      `yaml:"allow_tor_connector"`
		Tor                      struct {
			PerHostRequestsPerMinute float64 `yaml:"per_host_requests_per_minute"`
			GlobalRequestsPerMinute  float64 `yaml:"global_requests_per_minute"`
			FailureBlockMinutes      int     `yaml:"failure_block_minutes"`
			MaxFailuresPerHost       int     `yaml:"max_failures_per_host"`
			IllegalBlockDays         int     `yaml:"illegal_block_days"`
			BlocklistPath            string  `yaml:"blocklist_path"`
		} `yaml:"tor"`
	} `yaml:"crawl"`

	Frontier struct {
		Weights struct {
			HostBudget *float64 `yaml:"host_budget"`
			Novelty    *float64 `yaml:"novelty"`
			Bandit     *float64 `yaml:"bandit"`
			Oddity     *float64 `yaml:"oddity"`
		} `yaml:"weights"`
		DepthPenalty           *float64 `yaml:"depth_penalty"`
		CrossDomainBonus       *float64 `yaml:"cross_domain_bonus"`
		NoveltyDecay           *float64 `yaml:"novelty_decay"`
		BanditExploration      *float64 `yaml:"bandit_exploration"`
		BanditInitial          *float64 `yaml:"bandit_initial"`
		CascadeMinObservations *int     `yaml:"cascade_min_observations"`
		CascadeSkipThreshold   *float64 `yaml:"cascade_skip_threshold"`
		CascadePenalty         *float64 `yaml:"cascade_penalty"`
		HostTokenCapacity      *float64 `yaml:"host_token_capacity"`
		FailureCooldownSeconds *float64 `yaml:"failure_cooldown_seconds"`
	} `yaml:"frontier"`

	Triage struct {
		Cascade struct {
			MinContentLength       *int     `yaml:"min_content_length"`
			MaxContentLength       *int     `yaml:"max_content_length"`
			ScriptRatioMax         *float64 `yaml:"script_ratio_max"`
			AnchorRatioMax         *float64 `yaml:"anchor_ratio_max"`
			TextDensityMin         *float64 `yaml:"text_density_min"`
			TokensFloor            *int     `yaml:"tokens_floor"`
			OverrideTokensMin      *int     `yaml:"override_tokens_min"`
			OverrideRetroScoreMin  *float64 `yaml:"override_retro_score_min"`
			OverrideAnchorRatioMin *float64 `yaml:"override_anchor_ratio_min"`
			BoringKeywords         []string `yaml:"boring_keywords"`
			SimHashBits            *int     `yaml:"simhash_bits"`
			SimHashNearDist        *int     `yaml:"simhash_near_dist"`
			ClassifierThreshold    *float64 `yaml:"classifier_threshold"`
		} `yaml:"cascade"`
		Prefilter struct {
			MinTokenCount          *int     `yaml:"min_token_count"`
			SameDomainRatioThresh  *float64 `yaml:"same_domain_ratio_threshold"`
			BoringKeywords         []string `yaml:"boring_keywords"`
			OddSimilarityThresh    *float64 `yaml:"odd_similarity_threshold"`
			BoringSimilarityThresh *float64 `yaml:"boring_similarity_threshold"`
			MinExcerptLenForEmbed  *int     `yaml:"min_excerpt_len_for_embed"`
		} `yaml:"prefilter"`
	} `yaml:"triage"`

	Scoring struct {
		Weights struct {
			Bias      *float64 `yaml:"bias"`
			RetroHTML *float64 `yaml:"retro_html"`
			URLWeird  *float64 `yaml:"url_weird"`
			Semantic  *float64 `yaml:"semantic"`
			Anomaly   *float64 `yaml:"anomaly"`
			Graph     *float64 `yaml:"graph"`
		} `yaml:"weights"`
		Thresholds struct {
			Persist *float64 `yaml:"persist"`
			LLMGate *float64 `yaml:"llm_gate"`
			Alert   *float64 `yaml:"alert"`
		} `yaml:"thresholds"`
	} `yaml:"scoring"`

	Storage struct {
		BaseDir      string     `yaml:"base_dir"`
		RawHTML      sectionDTO `yaml:"raw_html"`
		Excerpts     sectionDTO `yaml:"excerpts"`
		Breadcrumbs  sectionDTO `yaml:"breadcrumbs"`
		SaltRotation struct {
			ActiveVersion int `yaml:"active_version"`
		} `yaml:"salt_rotation"`
	} `yaml:"storage"`

	Safety struct {
		IllegalContent struct {
			Keywords          []string `yaml:"keywords"`
			MinKeywordMatches int      `yaml:"min_keyword_matches"`
		} `yaml:"illegal_content"`
	} `yaml:"safety"`

	RunLoop struct {
		RunDir              string  `yaml:"run_dir"`
		CheckpointInterval  int     `yaml:"checkpoint_interval"`
		FailureCacheSeconds float64 `yaml:"failure_cache_seconds"`
		MaxPages            int     `yaml:"max_pages"`
	} `yaml:"run_loop"`
}

type sectionDTO struct {
	Enabled  *bool  `yaml:"enabled"`
	Path     string `yaml:"path"`
	TTLDays  int    `yaml:"ttl_days"`
	MaxChars int    `yaml:"max_chars"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	seeds := make([]url.URL, 0, len(dto.Crawl.SeedURLs))
	for _, raw := range dto.Crawl.SeedURLs {
		parsed, err := url.Parse(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%w: seed URL %q: %s", ErrInvalidConfig, raw, err.Error())
		}
		seeds = append(seeds, *parsed)
	}

	cfg := WithDefault(seeds)

	if dto.Crawl.UserAgent != "" {
		cfg.WithUserAgent(dto.Crawl.UserAgent)
	}
	if dto.Crawl.DownloadTimeoutSeconds > 0 {
		cfg.WithDownloadTimeout(time.Duration(dto.Crawl.DownloadTimeoutSeconds * float64(time.Second)))
	}
	if dto.Crawl.ObeyRobotsTxt != nil {
		cfg.WithObeyRobotsTxt(*dto.Crawl.ObeyRobotsTxt)
	}
	if dto.Crawl.PerHostRequestsPerMinute > 0 {
		cfg.WithPerHostRequestsPerMinute(dto.Crawl.PerHostRequestsPerMinute)
	}
	if dto.Crawl.Retries != nil {
		cfg.WithRetries(*dto.Crawl.Retries)
	}
	if len(dto.Crawl.ErrorBackoffSeconds) == 2 {
		cfg.WithErrorBackoffSeconds(dto.Crawl.ErrorBackoffSeconds[0], dto.Crawl.ErrorBackoffSeconds[1])
	} else if len(dto.Crawl.ErrorBackoffSeconds) != 0 {
		return Config{}, fmt.Errorf("%w: error_backoff_seconds must be a [low, high] pair", ErrInvalidConfig)
	}
	cfg.WithAllowTorConnector(dto.Crawl.AllowTorConnector)

	torGate := cfg.torGate
	if dto.Crawl.Tor.PerHostRequestsPerMinute > 0 {
		torGate.PerHostRequestsPerMinute = dto.Crawl.Tor.PerHostRequestsPerMinute
	}
	if dto.Crawl.Tor.GlobalRequestsPerMinute > 0 {
		torGate.GlobalRequestsPerMinute = dto.Crawl.Tor.GlobalRequestsPerMinute
	}
	if dto.Crawl.Tor.FailureBlockMinutes > 0 {
		torGate.FailureBlockMinutes = dto.Crawl.Tor.FailureBlockMinutes
	}
	if dto.Crawl.Tor.MaxFailuresPerHost > 0 {
		torGate.MaxFailuresPerHost = dto.Crawl.Tor.MaxFailuresPerHost
	}
	if dto.Crawl.Tor.IllegalBlockDays > 0 {
		torGate.IllegalBlockDays = dto.Crawl.Tor.IllegalBlockDays
	}
	if dto.Crawl.Tor.BlocklistPath != "" {
		torGate.BlocklistPath = dto.Crawl.Tor.BlocklistPath
	}
	cfg.WithTorGateSettings(torGate)

	applyFrontierDTO(cfg, dto)
	applyTriageDTO(cfg, dto)
	applyScoringDTO(cfg, dto)
	applyStorageDTO(cfg, dto)

	if len(dto.Safety.IllegalContent.Keywords) > 0 {
		minMatches := dto.Safety.IllegalContent.MinKeywordMatches
		if minMatches < 1 {
			minMatches = 1
		}
		cfg.WithIllegalKeywords(dto.Safety.IllegalContent.Keywords, minMatches)
	}

	if dto.RunLoop.RunDir != "" {
		cfg.WithRunDir(dto.RunLoop.RunDir)
	}
	if dto.RunLoop.CheckpointInterval > 0 {
		cfg.WithCheckpointInterval(dto.RunLoop.CheckpointInterval)
	}
	if dto.RunLoop.FailureCacheSeconds > 0 {
		cfg.WithFailureCacheSeconds(dto.RunLoop.FailureCacheSeconds)
	}
	if dto.RunLoop.MaxPages > 0 {
		cfg.WithMaxPages(dto.RunLoop.MaxPages)
	}

	return cfg.Build()
}

func applyFrontierDTO(cfg *Config, dto configDTO) {
	settings := cfg.frontierSettings
	w := dto.Frontier.Weights
	if w.HostBudget != nil {
		settings.Weights.HostBudget = *w.HostBudget
	}
	if w.Novelty != nil {
		settings.Weights.Novelty = *w.Novelty
	}
	if w.Bandit != nil {
		settings.Weights.Bandit = *w.Bandit
	}
	if w.Oddity != nil {
		settings.Weights.Oddity = *w.Oddity
	}
	if dto.Frontier.DepthPenalty != nil {
		settings.DepthPenalty = *dto.Frontier.DepthPenalty
	}
	if dto.Frontier.CrossDomainBonus != nil {
		settings.CrossDomainBonus = *dto.Frontier.CrossDomainBonus
	}
	if dto.Frontier.NoveltyDecay != nil {
		settings.NoveltyDecay = *dto.Frontier.NoveltyDecay
	}
	if dto.Frontier.BanditExploration != nil {
		settings.BanditExploration = *dto.Frontier.BanditExploration
	}
	if dto.Frontier.BanditInitial != nil {
		settings.BanditInitial = *dto.Frontier.BanditInitial
	}
	if dto.Frontier.CascadeMinObservations != nil {
		settings.CascadeMinObservations = *dto.Frontier.CascadeMinObservations
	}
	if dto.Frontier.CascadeSkipThreshold != nil {
		settings.CascadeSkipThreshold = *dto.Frontier.CascadeSkipThreshold
	}
	if dto.Frontier.CascadePenalty != nil {
		settings.CascadePenalty = *dto.Frontier.CascadePenalty
	}
	if dto.Frontier.HostTokenCapacity != nil {
		settings.HostTokenCapacity = *dto.Frontier.HostTokenCapacity
	}
	if dto.Frontier.FailureCooldownSeconds != nil {
		settings.FailureCooldownSeconds = *dto.Frontier.FailureCooldownSeconds
	}
	cfg.WithFrontierSettings(settings)
}

func applyTriageDTO(cfg *Config, dto configDTO) {
	cascade := cfg.cascadeSettings
	c := dto.Triage.Cascade
	if c.MinContentLength != nil {
		cascade.MinContentLength = *c.MinContentLength
	}
	if c.MaxContentLength != nil {
		cascade.MaxContentLength = *c.MaxContentLength
	}
	if c.ScriptRatioMax != nil {
		cascade.ScriptRatioMax = *c.ScriptRatioMax
	}
	if c.AnchorRatioMax != nil {
		cascade.AnchorRatioMax = *c.AnchorRatioMax
	}
	if c.TextDensityMin != nil {
		cascade.TextDensityMin = *c.TextDensityMin
	}
	if c.TokensFloor != nil {
		cascade.TokensFloor = *c.TokensFloor
	}
	if c.OverrideTokensMin != nil {
		cascade.OverrideTokensMin = *c.OverrideTokensMin
	}
	if c.OverrideRetroScoreMin != nil {
		cascade.OverrideRetroScoreMin = *c.OverrideRetroScoreMin
	}
	if c.OverrideAnchorRatioMin != nil {
		cascade.OverrideAnchorRatioMin = *c.OverrideAnchorRatioMin
	}
	if len(c.BoringKeywords) > 0 {
		cascade.BoringKeywords = c.BoringKeywords
	}
	if c.SimHashBits != nil {
		cascade.SimHashBits = *c.SimHashBits
	}
	if c.SimHashNearDist != nil {
		cascade.SimHashNearDist = *c.SimHashNearDist
	}
	if c.ClassifierThreshold != nil {
		cascade.ClassifierThreshold = *c.ClassifierThreshold
	}
	cfg.WithCascadeSettings(cascade)

	prefilter := cfg.prefilterSettings
	p := dto.Triage.Prefilter
	if p.MinTokenCount != nil {
		prefilter.MinTokenCount = *p.MinTokenCount
	}
	if p.SameDomainRatioThresh != nil {
		prefilter.SameDomainRatioThresh = *p.SameDomainRatioThresh
	}
	if len(p.BoringKeywords) > 0 {
		prefilter.BoringKeywords = p.BoringKeywords
	}
	if p.OddSimilarityThresh != nil {
		prefilter.OddSimilarityThresh = *p.OddSimilarityThresh
	}
	if p.BoringSimilarityThresh != nil {
		prefilter.BoringSimilarityThresh = *p.BoringSimilarityThresh
	}
	if p.MinExcerptLenForEmbed != nil {
		prefilter.MinExcerptLenForEmbed = *p.MinExcerptLenForEmbed
	}
	cfg.WithPrefilterSettings(prefilter)
}

func applyScoringDTO(cfg *Config, dto configDTO) {
	weights := cfg.scoringWeights
	w := dto.Scoring.Weights
	if w.Bias != nil {
		weights.Bias = *w.Bias
	}
	if w.RetroHTML != nil {
		weights.RetroHTML = *w.RetroHTML
	}
	if w.URLWeird != nil {
		weights.URLWeird = *w.URLWeird
	}
	if w.Semantic != nil {
		weights.Semantic = *w.Semantic
	}
	if w.Anomaly != nil {
		weights.Anomaly = *w.Anomaly
	}
	if w.Graph != nil {
		weights.Graph = *w.Graph
	}
	t := dto.Scoring.Thresholds
	if t.Persist != nil {
		weights.Persist = *t.Persist
	}
	if t.LLMGate != nil {
		weights.LLMGate = *t.LLMGate
	}
	if t.Alert != nil {
		weights.Alert = *t.Alert
	}
	cfg.WithScoringWeights(weights)
}

func applyStorageDTO(cfg *Config, dto configDTO) {
	if dto.Storage.BaseDir != "" {
		cfg.WithBaseDir(dto.Storage.BaseDir)
	}
	settings := cfg.storageSettings
	applySectionDTO(&settings.RawHTML, dto.Storage.RawHTML)
	applySectionDTO(&settings.Excerpts, dto.Storage.Excerpts)
	applySectionDTO(&settings.Breadcrumbs, dto.Storage.Breadcrumbs)
	if dto.Storage.SaltRotation.ActiveVersion > 0 {
		settings.SaltRotationVersion = dto.Storage.SaltRotation.ActiveVersion
	}
	cfg.WithStorageSettings(settings)
}

func applySectionDTO(section *storage.SectionSettings, dto sectionDTO) {
	if dto.Enabled != nil {
		section.Enabled = *dto.Enabled
	}
	if dto.Path != "" {
		section.Path = dto.Path
	}
	if dto.TTLDays > 0 {
		section.TTLDays = dto.TTLDays
	}
	if dto.MaxChars > 0 {
		section.MaxChars = dto.MaxChars
	}
}
