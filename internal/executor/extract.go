package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/webextract/webextract/internal/gen"
)

// extractSelectors applies each CSS selector and records the matched text.
// A selector matching multiple nodes yields a list.
func extractSelectors(body []byte, selectors map[string]string) (map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	fields := make(map[string]any)
	for field, selector := range selectors {
		sel := doc.Find(selector)
		var values []string
		sel.Each(func(_ int, s *goquery.Selection) {
			if text := nodeText(s); text != "" {
				values = append(values, text)
			}
		})
		switch len(values) {
		case 0:
		case 1:
			fields[field] = values[0]
		default:
			fields[field] = values
		}
	}
	return fields, nil
}

// nodeText prefers href targets for contact links so tel:/mailto: values
// survive even when the anchor text is decorative.
func nodeText(s *goquery.Selection) string {
	if href, ok := s.Attr("href"); ok {
		if strings.HasPrefix(href, "tel:") || strings.HasPrefix(href, "mailto:") {
			return strings.TrimPrefix(strings.TrimPrefix(href, "tel:"), "mailto:")
		}
	}
	return strings.TrimSpace(s.Text())
}

// extractStructured pulls fields from schema.org JSON-LD blocks.
func extractStructured(body []byte) (map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	fields := make(map[string]any)
	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return
		}
		flattenJSONLD(payload, fields)
	})
	if len(fields) == 0 {
		return nil, errors.New("no structured data blocks")
	}
	return fields, nil
}

// flattenJSONLD copies scalar properties of the first level of each JSON-LD
// object into fields, skipping JSON-LD control keys. Nested objects are kept
// as-is under their property name.
func flattenJSONLD(payload any, fields map[string]any) {
	switch v := payload.(type) {
	case []any:
		for _, item := range v {
			flattenJSONLD(item, fields)
		}
	case map[string]any:
		if graph, ok := v["@graph"]; ok {
			flattenJSONLD(graph, fields)
			return
		}
		for key, value := range v {
			if strings.HasPrefix(key, "@") {
				continue
			}
			if _, exists := fields[key]; !exists {
				fields[key] = value
			}
		}
	}
}

const generativeExtractPrompt = `You extract structured data from web page text.

Instruction: %s

Page content:
%s

Respond with exactly one JSON object mapping field names to extracted values.
Use null for fields you cannot find, and never invent values.`

func (e *Executor) extractGenerative(ctx context.Context, body []byte, instruction string) (map[string]any, error) {
	if e.generator == nil {
		return nil, errors.New("no generation backend configured")
	}
	if instruction == "" {
		instruction = "Extract every clearly labeled data field from the page."
	}
	text, err := e.generator.Generate(ctx, fmt.Sprintf(generativeExtractPrompt, instruction, pageText(body, e.cfg.SampleBytes)))
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	raw, err := gen.FirstJSONObject(text)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	for key, value := range fields {
		if value == nil {
			delete(fields, key)
		}
	}
	return fields, nil
}

// pageText strips markup down to whitespace-normalized text for prompting.
func pageText(body []byte, limit int) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		text := string(body)
		if limit > 0 && len(text) > limit {
			text = text[:limit]
		}
		return text
	}
	doc.Find("script, style, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Text()), " ")
	if limit > 0 && len(text) > limit {
		text = text[:limit]
	}
	return text
}
