// Package analyzer classifies target pages ahead of strategy selection. It
// scans markup for structural signals, asks a generation backend to label the
// page, and falls back to heuristics so callers always get an analysis.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/gen"
	"github.com/webextract/webextract/internal/pipeline"
)

// Config controls probe and classification behavior.
type Config struct {
	ProbeTimeout time.Duration
	SampleBytes  int
	CacheTTL     time.Duration
}

// Analyzer implements pipeline.Analyzer.
type Analyzer struct {
	fetcher   pipeline.Fetcher
	generator pipeline.Generator
	cfg       Config
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	analysis pipeline.WebsiteAnalysis
	expires  time.Time
}

// New builds an Analyzer. generator may be nil; classification then relies on
// heuristics alone.
func New(fetcher pipeline.Fetcher, generator pipeline.Generator, cfg Config, logger *zap.Logger) *Analyzer {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.SampleBytes <= 0 {
		cfg.SampleBytes = 4096
	}
	return &Analyzer{
		fetcher:   fetcher,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
		cache:     make(map[string]cacheEntry),
	}
}

// Analyze classifies a single URL. It never returns an error: any failure
// along the way yields the conservative fallback analysis.
func (a *Analyzer) Analyze(ctx context.Context, target string) pipeline.WebsiteAnalysis {
	host := hostOf(target)
	if analysis, ok := a.cached(host); ok {
		analysis.URL = target
		return analysis
	}

	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	resp, err := a.fetcher.Fetch(probeCtx, pipeline.FetchRequest{URL: target, Timeout: a.cfg.ProbeTimeout})
	if err != nil {
		a.logger.Debug("analysis probe failed, using fallback",
			zap.String("url", target), zap.Error(err))
		return Fallback(target)
	}
	if resp.StatusCode >= 400 {
		a.logger.Debug("analysis probe rejected, using fallback",
			zap.String("url", target), zap.Int("status", resp.StatusCode))
		return Fallback(target)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return Fallback(target)
	}
	sig := scanSignals(doc, a.cfg.SampleBytes)

	analysis := pipeline.WebsiteAnalysis{
		URL:             target,
		Frameworks:      sig.Frameworks,
		AntiBotMeasures: sig.AntiBot,
		HasJavaScript:   sig.ScriptCount > 0,
		HasAuthRequired: sig.PasswordForms > 0,
	}

	if classified, ok := a.classifyGenerative(ctx, sig); ok {
		analysis.WebsiteType = classified.WebsiteType
		analysis.Complexity = classified.Complexity
		analysis.ContentPatterns = classified.ContentPatterns
	} else {
		analysis.WebsiteType = classifyType(sig)
		analysis.Complexity = classifyComplexity(sig)
		analysis.ContentPatterns = contentPatterns(sig)
	}

	a.store(host, analysis)
	return analysis
}

// Fallback is the conservative analysis returned when probing or parsing
// fails.
func Fallback(target string) pipeline.WebsiteAnalysis {
	return pipeline.WebsiteAnalysis{
		URL:         target,
		WebsiteType: pipeline.SiteCorporate,
		Complexity:  pipeline.ComplexityMedium,
	}
}

type classification struct {
	WebsiteType     pipeline.WebsiteType
	Complexity      pipeline.Complexity
	ContentPatterns []string
}

const classifyPrompt = `You classify web pages for an extraction pipeline.

Page title: %s
Structural signals: frameworks=%v forms=%d tables=%d max_table_rows=%d list_items=%d articles=%d price_markers=%d json_ld=%t
Content sample:
%s

Respond with exactly one JSON object, no prose:
{"website_type": one of ["directory_listing","e_commerce","social_media","news_article","corporate","form_heavy","spa_dynamic","data_table"],
 "complexity": one of ["low","medium","high"],
 "content_patterns": [short strings naming repeated content shapes]}`

func (a *Analyzer) classifyGenerative(ctx context.Context, sig signals) (classification, bool) {
	if a.generator == nil {
		return classification{}, false
	}
	prompt := fmt.Sprintf(classifyPrompt,
		sig.Title, sig.Frameworks, sig.FormCount, sig.TableCount, sig.MaxTableRows,
		sig.ListItems, sig.ArticleCount, sig.PriceMarkers, sig.HasJSONLD, sig.TextSample)

	text, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		a.logger.Debug("generative classification failed", zap.Error(err))
		return classification{}, false
	}
	raw, err := gen.FirstJSONObject(text)
	if err != nil {
		return classification{}, false
	}
	var parsed struct {
		WebsiteType     string   `json:"website_type"`
		Complexity      string   `json:"complexity"`
		ContentPatterns []string `json:"content_patterns"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return classification{}, false
	}
	siteType, ok := parseWebsiteType(parsed.WebsiteType)
	if !ok {
		return classification{}, false
	}
	complexity, ok := parseComplexity(parsed.Complexity)
	if !ok {
		return classification{}, false
	}
	return classification{
		WebsiteType:     siteType,
		Complexity:      complexity,
		ContentPatterns: parsed.ContentPatterns,
	}, true
}

func parseWebsiteType(s string) (pipeline.WebsiteType, bool) {
	switch t := pipeline.WebsiteType(strings.TrimSpace(s)); t {
	case pipeline.SiteDirectoryListing, pipeline.SiteECommerce, pipeline.SiteSocialMedia,
		pipeline.SiteNewsArticle, pipeline.SiteCorporate, pipeline.SiteFormHeavy,
		pipeline.SiteSPADynamic, pipeline.SiteDataTable:
		return t, true
	default:
		return "", false
	}
}

func parseComplexity(s string) (pipeline.Complexity, bool) {
	switch c := pipeline.Complexity(strings.TrimSpace(s)); c {
	case pipeline.ComplexityLow, pipeline.ComplexityMedium, pipeline.ComplexityHigh:
		return c, true
	default:
		return "", false
	}
}

func classifyType(sig signals) pipeline.WebsiteType {
	spa := false
	for _, fw := range sig.Frameworks {
		switch fw {
		case "react", "next.js", "vue", "angular", "svelte":
			spa = true
		}
	}
	switch {
	case sig.MaxTableRows >= 10 || sig.TableCount >= 3:
		return pipeline.SiteDataTable
	case sig.PriceMarkers >= 3:
		return pipeline.SiteECommerce
	case sig.ArticleCount > 0 || sig.OGType == "article":
		return pipeline.SiteNewsArticle
	case sig.ListItems >= 20 && sig.LinkCount >= 20:
		return pipeline.SiteDirectoryListing
	case sig.FormCount >= 3:
		return pipeline.SiteFormHeavy
	case spa && len(sig.TextSample) < 512:
		return pipeline.SiteSPADynamic
	case sig.OGType == "profile" || sig.OGType == "video.other":
		return pipeline.SiteSocialMedia
	default:
		return pipeline.SiteCorporate
	}
}

func classifyComplexity(sig signals) pipeline.Complexity {
	switch {
	case len(sig.AntiBot) > 0 || sig.PasswordForms > 0:
		return pipeline.ComplexityHigh
	case len(sig.Frameworks) > 0:
		return pipeline.ComplexityMedium
	case sig.ScriptCount <= 2 && sig.FormCount == 0:
		return pipeline.ComplexityLow
	default:
		return pipeline.ComplexityMedium
	}
}

func contentPatterns(sig signals) []string {
	var patterns []string
	if sig.HasJSONLD {
		patterns = append(patterns, "structured_data")
	}
	if sig.TableCount > 0 {
		patterns = append(patterns, "tabular_data")
	}
	if sig.ListItems >= 10 {
		patterns = append(patterns, "listing_items")
	}
	if sig.PriceMarkers > 0 {
		patterns = append(patterns, "product_pricing")
	}
	if sig.ArticleCount > 0 {
		patterns = append(patterns, "article_body")
	}
	if sig.PasswordForms > 0 {
		patterns = append(patterns, "login_form")
	}
	return patterns
}

func (a *Analyzer) cached(host string) (pipeline.WebsiteAnalysis, bool) {
	if a.cfg.CacheTTL <= 0 || host == "" {
		return pipeline.WebsiteAnalysis{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.cache[host]
	if !ok || time.Now().After(entry.expires) {
		delete(a.cache, host)
		return pipeline.WebsiteAnalysis{}, false
	}
	return entry.analysis, true
}

func (a *Analyzer) store(host string, analysis pipeline.WebsiteAnalysis) {
	if a.cfg.CacheTTL <= 0 || host == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[host] = cacheEntry{analysis: analysis, expires: time.Now().Add(a.cfg.CacheTTL)}
}

func hostOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return u.Host
}
