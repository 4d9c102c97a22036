package strategy

import (
	"fmt"
	"maps"

	"github.com/webextract/webextract/internal/pipeline"
)

// TableKey addresses a pattern table entry.
type TableKey struct {
	SiteType pipeline.WebsiteType
	Purpose  string
}

// Table is the exact-match pattern configuration a Selector consults before
// any other resolution path. Each Selector carries its own Table; an empty
// non-nil Table disables the path.
type Table map[TableKey]pipeline.StrategyRecommendation

// DefaultTable returns a copy of the curated patterns, so callers can extend
// it without affecting other selectors.
func DefaultTable() Table {
	return maps.Clone(curatedTable)
}

// curatedTable holds the exact-match patterns consulted before any other
// resolution path. Entries here have been validated by hand against real
// sites of the given shape.
var curatedTable = Table{
	{pipeline.SiteDirectoryListing, "contacts"}: {
		Primary: pipeline.Strategy{
			Kind: pipeline.StrategySelector,
			Selectors: map[string]string{
				"company_name": ".listing .name, .result h2, .directory-entry h3",
				"phone":        ".listing .phone, a[href^='tel:']",
				"email":        ".listing .email, a[href^='mailto:']",
				"address":      ".listing .address, address",
			},
		},
		Fallbacks:            []pipeline.Strategy{generativeFor("contacts")},
		EstimatedSuccessRate: 0.85,
		Reasoning:            "directory listings keep contact fields in repeated card markup",
	},
	{pipeline.SiteECommerce, "pricing"}: {
		Primary: pipeline.Strategy{
			Kind: pipeline.StrategyStructured,
		},
		Fallbacks: []pipeline.Strategy{
			{
				Kind: pipeline.StrategySelector,
				Selectors: map[string]string{
					"product_name": "h1, .product-title, [itemprop='name']",
					"price":        ".price, [itemprop='price'], .product-price",
					"availability": ".availability, [itemprop='availability']",
				},
			},
			generativeFor("pricing"),
		},
		EstimatedSuccessRate: 0.9,
		Reasoning:            "commerce pages usually ship schema.org product markup",
	},
	{pipeline.SiteDataTable, "pricing"}: {
		Primary: pipeline.Strategy{
			Kind: pipeline.StrategySelector,
			Selectors: map[string]string{
				"rows": "table tr",
			},
		},
		Fallbacks:            []pipeline.Strategy{generativeFor("pricing")},
		EstimatedSuccessRate: 0.8,
		Reasoning:            "tabular pages yield to row-wise selector extraction",
	},
	{pipeline.SiteNewsArticle, "articles"}: {
		Primary: pipeline.Strategy{
			Kind: pipeline.StrategySelector,
			Selectors: map[string]string{
				"headline":  "h1, article h1, [itemprop='headline']",
				"author":    ".byline, [rel='author'], [itemprop='author']",
				"published": "time[datetime], [itemprop='datePublished']",
				"body":      "article p",
			},
		},
		Fallbacks:            []pipeline.Strategy{generativeFor("articles")},
		EstimatedSuccessRate: 0.85,
		Reasoning:            "article markup is strongly conventionalized",
	},
}

func generativeFor(purpose string) pipeline.Strategy {
	return pipeline.Strategy{
		Kind:        pipeline.StrategyGenerative,
		Instruction: fmt.Sprintf("Extract all fields relevant to %q from the page content.", purpose),
	}
}

// RuleBased is the deterministic terminal fallback. It cannot fail and
// always returns a usable recommendation.
func RuleBased(analysis pipeline.WebsiteAnalysis, purpose string) pipeline.StrategyRecommendation {
	renderJS := analysis.WebsiteType == pipeline.SiteSPADynamic ||
		analysis.Complexity == pipeline.ComplexityHigh

	switch analysis.WebsiteType {
	case pipeline.SiteDirectoryListing, pipeline.SiteDataTable:
		primary := pipeline.Strategy{
			Kind: pipeline.StrategySelector,
			Selectors: map[string]string{
				"items": "li, tr, .listing, .result",
			},
			RenderJS: renderJS,
		}
		fallback := generativeFor(purpose)
		fallback.RenderJS = renderJS
		return pipeline.StrategyRecommendation{
			Primary:              primary,
			Fallbacks:            []pipeline.Strategy{fallback},
			EstimatedSuccessRate: 0.6,
			Reasoning:            "repetitive page shape favors selector extraction",
		}
	default:
		primary := generativeFor(purpose)
		primary.RenderJS = renderJS
		return pipeline.StrategyRecommendation{
			Primary:              primary,
			EstimatedSuccessRate: 0.5,
			Reasoning:            "no structural shortcut available, extracting generatively",
		}
	}
}
