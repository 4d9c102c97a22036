package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webextract/webextract/internal/pipeline"
)

const commerceHTML = `<html><head><title>Shop</title>
<script type="application/ld+json">{"@type":"Product"}</script></head>
<body>
<div class="product">Widget $19.99 <button>Add to cart</button></div>
<div class="product">Gadget $24.50 <button>Add to cart</button></div>
<div class="product">Gizmo $9.00 <button>Add to cart</button></div>
</body></html>`

const tableHTML = `<html><head><title>Rates</title></head><body><table>
<tr><th>a</th></tr><tr><td>1</td></tr><tr><td>2</td></tr><tr><td>3</td></tr>
<tr><td>4</td></tr><tr><td>5</td></tr><tr><td>6</td></tr><tr><td>7</td></tr>
<tr><td>8</td></tr><tr><td>9</td></tr><tr><td>10</td></tr>
</table></body></html>`

const captchaHTML = `<html><head><title>Verify</title>
<script src="https://www.google.com/recaptcha/api.js"></script></head>
<body><div class="g-recaptcha"></div></body></html>`

func TestAnalyze_HeuristicECommerce(t *testing.T) {
	t.Parallel()

	a := New(fixedFetcher{body: commerceHTML}, nil, Config{}, zap.NewNop())
	analysis := a.Analyze(context.Background(), "https://shop.example/widgets")

	require.Equal(t, pipeline.SiteECommerce, analysis.WebsiteType)
	require.Contains(t, analysis.ContentPatterns, "structured_data")
	require.Contains(t, analysis.ContentPatterns, "product_pricing")
}

func TestAnalyze_HeuristicDataTable(t *testing.T) {
	t.Parallel()

	a := New(fixedFetcher{body: tableHTML}, nil, Config{}, zap.NewNop())
	analysis := a.Analyze(context.Background(), "https://data.example/rates")

	require.Equal(t, pipeline.SiteDataTable, analysis.WebsiteType)
	require.Contains(t, analysis.ContentPatterns, "tabular_data")
}

func TestAnalyze_AntiBotRaisesComplexity(t *testing.T) {
	t.Parallel()

	a := New(fixedFetcher{body: captchaHTML}, nil, Config{}, zap.NewNop())
	analysis := a.Analyze(context.Background(), "https://guarded.example/")

	require.Contains(t, analysis.AntiBotMeasures, "recaptcha")
	require.Equal(t, pipeline.ComplexityHigh, analysis.Complexity)
}

func TestAnalyze_FetchFailureFallsBack(t *testing.T) {
	t.Parallel()

	a := New(fixedFetcher{err: errors.New("connection refused")}, nil, Config{}, zap.NewNop())
	analysis := a.Analyze(context.Background(), "https://down.example/")

	require.Equal(t, pipeline.SiteCorporate, analysis.WebsiteType)
	require.Equal(t, pipeline.ComplexityMedium, analysis.Complexity)
	require.Empty(t, analysis.Frameworks)
	require.Empty(t, analysis.AntiBotMeasures)
}

func TestAnalyze_GenerativeClassificationWins(t *testing.T) {
	t.Parallel()

	g := fixedGenerator{text: `{"website_type":"news_article","complexity":"low","content_patterns":["article_body"]}`}
	a := New(fixedFetcher{body: commerceHTML}, g, Config{}, zap.NewNop())
	analysis := a.Analyze(context.Background(), "https://news.example/story")

	require.Equal(t, pipeline.SiteNewsArticle, analysis.WebsiteType)
	require.Equal(t, pipeline.ComplexityLow, analysis.Complexity)
	require.Equal(t, []string{"article_body"}, analysis.ContentPatterns)
}

func TestAnalyze_InvalidGenerativeOutputFallsBackToHeuristics(t *testing.T) {
	t.Parallel()

	g := fixedGenerator{text: `{"website_type":"blog","complexity":"extreme"}`}
	a := New(fixedFetcher{body: commerceHTML}, g, Config{}, zap.NewNop())
	analysis := a.Analyze(context.Background(), "https://shop.example/widgets")

	require.Equal(t, pipeline.SiteECommerce, analysis.WebsiteType)
}

func TestAnalyze_CachesByHost(t *testing.T) {
	t.Parallel()

	fetcher := &countingFetcher{body: commerceHTML}
	a := New(fetcher, nil, Config{CacheTTL: time.Minute}, zap.NewNop())

	first := a.Analyze(context.Background(), "https://shop.example/widgets")
	second := a.Analyze(context.Background(), "https://shop.example/gadgets")

	require.Equal(t, 1, fetcher.calls)
	require.Equal(t, first.WebsiteType, second.WebsiteType)
	require.Equal(t, "https://shop.example/gadgets", second.URL)
}

type fixedFetcher struct {
	body string
	err  error
}

func (f fixedFetcher) Fetch(context.Context, pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	if f.err != nil {
		return pipeline.FetchResponse{}, f.err
	}
	return pipeline.FetchResponse{StatusCode: 200, Body: []byte(f.body)}, nil
}

type countingFetcher struct {
	body  string
	calls int
}

func (f *countingFetcher) Fetch(context.Context, pipeline.FetchRequest) (pipeline.FetchResponse, error) {
	f.calls++
	return pipeline.FetchResponse{StatusCode: 200, Body: []byte(f.body)}, nil
}

type fixedGenerator struct {
	text string
	err  error
}

func (g fixedGenerator) Generate(context.Context, string) (string, error) {
	return g.text, g.err
}

func (g fixedGenerator) Name() string { return "fixed" }
