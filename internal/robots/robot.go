package robots

/*
Responsibilities

- Fetch robots.txt per host
- Cache rules for crawl duration
- Enforce allow/disallow rules before fetch

Robots checks occur after a URL is popped from the frontier, before it
is fetched.
*/

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/arlowright/oddcrawl/internal/metadata"
	"github.com/arlowright/oddcrawl/internal/robots/cache"
)

// CachedRobot is the crawl-duration robots.txt authority: it fetches (via a
// cached RobotsFetcher), maps to a ruleSet, and decides allow/disallow for a
// given URL under the configured user agent.
type CachedRobot struct {
	sink      metadata.MetadataSink
	userAgent string
	fetcher   *RobotsFetcher
}

// NewCachedRobot returns a CachedRobot that must be initialized with Init or
// InitWithCache before Decide is called.
func NewCachedRobot(sink metadata.MetadataSink) CachedRobot {
	return CachedRobot{sink: sink}
}

// Init wires a fresh in-memory cache for the crawl's duration.
func (r *CachedRobot) Init(userAgent string) {
	r.InitWithCache(userAgent, cache.NewMemoryCache())
}

// InitWithCache wires a caller-supplied cache, letting a run share robots.txt
// results across components.
func (r *CachedRobot) InitWithCache(userAgent string, c cache.Cache) {
	r.userAgent = userAgent
	r.fetcher = NewRobotsFetcher(r.sink, userAgent, c)
}

// Decide fetches (or reuses the cached) robots.txt for u's host and reports
// whether u may be crawled under the configured user agent.
func (r *CachedRobot) Decide(u url.URL) (Decision, *RobotsError) {
	ctx := context.Background()

	result, err := r.fetcher.Fetch(ctx, u.Scheme, u.Host)
	if err != nil {
		r.sink.RecordError(
			time.Now(),
			"robots",
			"CachedRobot.Decide",
			mapRobotsErrorToMetadataCause(err),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, u.String()),
				metadata.NewAttr(metadata.AttrHost, u.Host),
			},
		)
		return Decision{}, err
	}

	if result.Response.IsEmpty() {
		return Decision{Url: u, Allowed: true, Reason: EmptyRuleSet}, nil
	}

	rs := MapResponseToRuleSet(result.Response, r.userAgent, result.FetchedAt)

	if !rs.hasGroups {
		return Decision{Url: u, Allowed: true, Reason: EmptyRuleSet}, nil
	}
	if !rs.matchedGroup {
		return Decision{Url: u, Allowed: true, Reason: UserAgentNotMatched}, nil
	}

	decision := evaluate(rs, u)
	decision.Url = u
	return decision, nil
}

// evaluate applies the longest-match-wins rule across allow and disallow
// patterns, with ties favoring allow, matching common robots.txt exclusion
// standard practice.
func evaluate(rs ruleSet, u url.URL) Decision {
	path := u.Path
	if path == "" {
		path = "/"
	}

	var bestLen int
	var bestAllow bool
	matched := false

	consider := func(pattern string, allow bool) {
		if !matchesPattern(pattern, path) {
			return
		}
		length := len(pattern)
		if !matched || length > bestLen || (length == bestLen && allow) {
			matched = true
			bestLen = length
			bestAllow = allow
		}
	}

	for _, rule := range rs.allowRules {
		consider(rule.prefix, true)
	}
	for _, rule := range rs.disallowRules {
		consider(rule.prefix, false)
	}

	var delay time.Duration
	if rs.crawlDelay != nil {
		delay = *rs.crawlDelay
	}

	if !matched {
		return Decision{Allowed: true, Reason: NoMatchingRules, CrawlDelay: delay}
	}
	if bestAllow {
		return Decision{Allowed: true, Reason: AllowedByRobots, CrawlDelay: delay}
	}
	return Decision{Allowed: false, Reason: DisallowedByRobots, CrawlDelay: delay}
}

// matchesPattern implements the robots.txt exclusion-standard pattern
// grammar: '*' matches any sequence, a trailing '$' anchors the match to
// the end of the path, and the pattern otherwise matches as a prefix.
func matchesPattern(pattern, path string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	body := strings.TrimSuffix(pattern, "$")

	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range body {
		if r == '*' {
			sb.WriteString(".*")
			continue
		}
		sb.WriteString(regexp.QuoteMeta(string(r)))
	}
	if anchored {
		sb.WriteString("$")
	}

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(path)
}
