package analyzer

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// signals is the structural fingerprint pulled from markup before any
// classification happens.
type signals struct {
	Frameworks    []string
	AntiBot       []string
	FormCount     int
	PasswordForms int
	TableCount    int
	MaxTableRows  int
	ListItems     int
	LinkCount     int
	ArticleCount  int
	ScriptCount   int
	HasJSONLD     bool
	HasOpenGraph  bool
	OGType        string
	PriceMarkers  int
	Title         string
	TextSample    string
}

// frameworkProbes maps a framework name to the markup hints that betray it.
var frameworkProbes = map[string][]string{
	"react":   {"[data-reactroot]", "#react-root"},
	"next.js": {"#__next", "script#__NEXT_DATA__"},
	"vue":     {"[data-v-app]", "#app[data-server-rendered]"},
	"angular": {"[ng-version]", "app-root"},
	"svelte":  {"[data-svelte]"},
}

var antiBotProbes = map[string][]string{
	"recaptcha":  {".g-recaptcha", "script[src*='recaptcha']"},
	"hcaptcha":   {".h-captcha", "script[src*='hcaptcha']"},
	"cloudflare": {"#challenge-form", "script[src*='challenge-platform']"},
	"datadome":   {"script[src*='datadome']"},
}

func scanSignals(doc *goquery.Document, sampleLimit int) signals {
	var sig signals

	sig.Title = strings.TrimSpace(doc.Find("title").First().Text())

	for name, probes := range frameworkProbes {
		for _, probe := range probes {
			if doc.Find(probe).Length() > 0 {
				sig.Frameworks = append(sig.Frameworks, name)
				break
			}
		}
	}
	scriptSrcs := collectScriptSources(doc)
	for _, hint := range []string{"react", "vue", "angular", "jquery"} {
		if containsHint(scriptSrcs, hint) && !contains(sig.Frameworks, hint) {
			sig.Frameworks = append(sig.Frameworks, hint)
		}
	}

	for name, probes := range antiBotProbes {
		for _, probe := range probes {
			if doc.Find(probe).Length() > 0 {
				sig.AntiBot = append(sig.AntiBot, name)
				break
			}
		}
	}

	sig.FormCount = doc.Find("form").Length()
	sig.PasswordForms = doc.Find("form:has(input[type='password'])").Length()
	sig.ScriptCount = doc.Find("script").Length()
	sig.LinkCount = doc.Find("a[href]").Length()
	sig.ListItems = doc.Find("ul li, ol li").Length()
	sig.ArticleCount = doc.Find("article").Length()
	sig.HasJSONLD = doc.Find("script[type='application/ld+json']").Length() > 0

	doc.Find("table").Each(func(_ int, s *goquery.Selection) {
		sig.TableCount++
		if rows := s.Find("tr").Length(); rows > sig.MaxTableRows {
			sig.MaxTableRows = rows
		}
	})

	doc.Find("meta[property^='og:']").Each(func(_ int, s *goquery.Selection) {
		sig.HasOpenGraph = true
		if prop, _ := s.Attr("property"); prop == "og:type" {
			sig.OGType, _ = s.Attr("content")
		}
	})

	body := doc.Find("body").Text()
	sig.PriceMarkers = countPriceMarkers(body)
	sig.TextSample = sampleText(body, sampleLimit)

	return sig
}

func collectScriptSources(doc *goquery.Document) []string {
	var srcs []string
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			srcs = append(srcs, strings.ToLower(src))
		}
	})
	return srcs
}

func containsHint(srcs []string, hint string) bool {
	for _, src := range srcs {
		if strings.Contains(src, hint) {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func countPriceMarkers(text string) int {
	count := 0
	for _, symbol := range []string{"$", "€", "£"} {
		idx := 0
		for {
			i := strings.Index(text[idx:], symbol)
			if i < 0 {
				break
			}
			pos := idx + i + len(symbol)
			if pos < len(text) && text[pos] >= '0' && text[pos] <= '9' {
				count++
			}
			idx = pos
		}
	}
	count += strings.Count(strings.ToLower(text), "add to cart")
	return count
}

func sampleText(body string, limit int) string {
	fields := strings.Fields(body)
	sample := strings.Join(fields, " ")
	if limit > 0 && len(sample) > limit {
		sample = sample[:limit]
	}
	return sample
}
