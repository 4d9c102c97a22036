// Package normalizer canonicalizes raw extracted fields and scores data
// quality.
package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/webextract/webextract/internal/pipeline"
)

// Normalizer canonicalizes field names and values. It is stateless; all
// methods are safe for concurrent use.
type Normalizer struct{}

// New constructs a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// fieldAliases maps common synonyms onto canonical field names.
var fieldAliases = map[string]string{
	"business_name": "company_name",
	"company":       "company_name",
	"org":           "company_name",
	"organization":  "company_name",
	"email_address": "email",
	"e_mail":        "email",
	"mail":          "email",
	"phone_number":  "phone",
	"telephone":     "phone",
	"tel":           "phone",
	"mobile":        "phone",
	"website":       "url",
	"web_site":      "url",
	"site":          "url",
	"link":          "url",
	"homepage":      "url",
	"cost":          "price",
	"amount":        "price",
	"stars":         "rating",
	"score":         "rating",
	"published":     "date",
	"published_at":  "date",
	"posted":        "date",
	"location":      "address",
}

var (
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	priceRe = regexp.MustCompile(`([$€£¥]|USD|EUR|GBP|JPY)?\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)
	ratingRe = regexp.MustCompile(
		`^([0-9]+(?:\.[0-9]+)?)\s*(?:/\s*([0-9]+(?:\.[0-9]+)?)|out of\s*([0-9]+(?:\.[0-9]+)?)|stars?|%)?`,
	)
	digitsRe = regexp.MustCompile(`[0-9]+`)
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"01/02/2006",
	"2006/01/02",
}

// Normalize canonicalizes names and values and returns a quality score. The
// score rewards field completeness and measurable improvement (for example an
// unstructured price string becoming a typed object). Unparseable values are
// dropped rather than guessed at.
func (n *Normalizer) Normalize(fields map[string]any, purpose string) (map[string]any, float64) {
	if len(fields) == 0 {
		return map[string]any{}, 0
	}

	out := make(map[string]any, len(fields))
	total := 0
	nonEmpty := 0
	improved := 0

	for name, value := range fields {
		total++
		key := CanonicalFieldName(name)

		str, isString := value.(string)
		if !isString {
			// Already structured (or numeric); pass through untouched so a
			// second pass is a no-op.
			if value != nil {
				out[key] = value
				nonEmpty++
			}
			continue
		}

		trimmed := strings.TrimSpace(str)
		if trimmed == "" {
			continue
		}

		normalized, changed, ok := normalizeValue(key, trimmed)
		if !ok {
			continue
		}
		out[key] = normalized
		nonEmpty++
		if changed || key != name {
			improved++
		}
	}

	completeness := float64(nonEmpty) / float64(total)
	improvement := float64(improved) / float64(total)
	score := pipeline.Clamp01(0.6*completeness + 0.4*improvement)
	return out, score
}

// CanonicalFieldName lower-cases, underscores and de-aliases a field name.
func CanonicalFieldName(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	if alias, ok := fieldAliases[key]; ok {
		return alias
	}
	return key
}

// normalizeValue canonicalizes a single string value. The boolean result
// reports whether the value survived; changed reports whether normalization
// altered it.
func normalizeValue(key, value string) (any, bool, bool) {
	switch semanticType(key, value) {
	case "email":
		return normalizeEmail(value)
	case "phone":
		return normalizePhone(value)
	case "url":
		return normalizeURL(value)
	case "price":
		return normalizePrice(value)
	case "rating":
		return normalizeRating(value)
	case "date":
		return normalizeDate(value)
	default:
		return value, false, true
	}
}

func semanticType(key, value string) string {
	switch {
	case strings.Contains(key, "email"):
		return "email"
	case strings.Contains(key, "phone") || strings.Contains(key, "fax"):
		return "phone"
	case key == "url" || strings.HasSuffix(key, "_url"):
		return "url"
	case strings.Contains(key, "price"):
		return "price"
	case strings.Contains(key, "rating"):
		return "rating"
	case strings.Contains(key, "date") || key == "date":
		return "date"
	case emailRe.MatchString(value):
		return "email"
	case strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://"):
		return "url"
	default:
		return ""
	}
}

func normalizeEmail(value string) (any, bool, bool) {
	lowered := strings.ToLower(strings.TrimSpace(value))
	if !emailRe.MatchString(lowered) {
		return nil, false, false
	}
	return lowered, lowered != value, true
}

func normalizePhone(value string) (any, bool, bool) {
	digits := strings.Join(digitsRe.FindAllString(value, -1), "")
	switch {
	case len(digits) == 10:
		formatted := fmt.Sprintf("(%s) %s-%s", digits[:3], digits[3:6], digits[6:])
		return formatted, formatted != value, true
	case len(digits) == 11 && digits[0] == '1':
		formatted := fmt.Sprintf("+1 (%s) %s-%s", digits[1:4], digits[4:7], digits[7:])
		return formatted, formatted != value, true
	case len(digits) >= 7 && len(digits) <= 15:
		formatted := "+" + digits
		return formatted, formatted != value, true
	default:
		return nil, false, false
	}
}

func normalizeURL(value string) (any, bool, bool) {
	u := strings.TrimSpace(value)
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "https://" + u
	}
	u = strings.TrimRight(u, "/")
	return u, u != value, true
}

func normalizePrice(value string) (any, bool, bool) {
	// Ranges like "$99.99 - $199.99" split on a dash between two amounts.
	if parts := splitRange(value); len(parts) == 2 {
		minAmount, minCur, okMin := parseAmount(parts[0])
		maxAmount, maxCur, okMax := parseAmount(parts[1])
		if okMin && okMax {
			currency := minCur
			if currency == "" {
				currency = maxCur
			}
			return map[string]any{
				"type":     "range",
				"min":      minAmount,
				"max":      maxAmount,
				"currency": currency,
			}, true, true
		}
	}
	amount, currency, ok := parseAmount(value)
	if !ok {
		return nil, false, false
	}
	return map[string]any{
		"type":     "amount",
		"amount":   amount,
		"currency": currency,
	}, true, true
}

func splitRange(value string) []string {
	for _, sep := range []string{" - ", " – ", "-"} {
		parts := strings.SplitN(value, sep, 2)
		if len(parts) == 2 && priceRe.MatchString(parts[0]) && priceRe.MatchString(parts[1]) {
			return parts
		}
	}
	return nil
}

var currencySymbols = map[string]string{
	"$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY",
	"USD": "USD", "EUR": "EUR", "GBP": "GBP", "JPY": "JPY",
}

func parseAmount(value string) (float64, string, bool) {
	m := priceRe.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil || m[2] == "" {
		return 0, "", false
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
	if err != nil {
		return 0, "", false
	}
	currency := "USD"
	if cur, ok := currencySymbols[m[1]]; ok {
		currency = cur
	}
	return amount, currency, true
}

func normalizeRating(value string) (any, bool, bool) {
	m := ratingRe.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil || m[1] == "" {
		return nil, false, false
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, false, false
	}
	maxScore := 5.0
	switch {
	case m[2] != "":
		maxScore, _ = strconv.ParseFloat(m[2], 64)
	case m[3] != "":
		maxScore, _ = strconv.ParseFloat(m[3], 64)
	case strings.HasSuffix(strings.TrimSpace(value), "%"):
		maxScore = 100
	}
	if maxScore <= 0 || score > maxScore {
		return nil, false, false
	}
	return map[string]any{
		"score":            score,
		"max_score":        maxScore,
		"normalized_score": pipeline.Clamp01(score / maxScore),
	}, true, true
}

func normalizeDate(value string) (any, bool, bool) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			iso := t.Format("2006-01-02")
			return iso, iso != value, true
		}
	}
	return nil, false, false
}
