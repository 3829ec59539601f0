package ingest

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rbayer/redzone/pkg/models"
)

// The normalizer's candidate lists and thresholds are behavioral contracts.
// They are kept as data so tests can enumerate them exhaustively.
var (
	// contentFields is the ordered list of known content field names; the
	// first non-empty string match wins.
	contentFields = []string{
		"feedback_content", "feedback", "prompt", "content", "body",
		"task_content", "text", "message", "instruction", "response",
	}

	// categoryFields is the ordered list of rating/score fields inspected
	// for category classification.
	categoryFields = []string{
		"rating", "score", "category", "label", "quality", "rank", "tier",
	}

	topAliases = map[string]bool{
		"top_10": true, "top10": true, "top 10": true,
		"selected": true, "better": true, "best": true,
		"preferred": true, "chosen": true,
	}

	bottomAliases = map[string]bool{
		"bottom_10": true, "bottom10": true, "bottom 10": true,
		"rejected": true, "worse": true, "worst": true,
		"discarded": true,
	}
)

// minContentLength is the shortest content accepted from a named field
// before the longest-string fallback kicks in.
const minContentLength = 10

// Candidate is one normalized input record, ready for dedup and persistence.
type Candidate struct {
	Content  string
	Category *string
	Raw      map[string]any
}

// Normalize extracts a best-guess content string and an optional category
// label from one raw record of unknown shape. No input is ever dropped for
// lack of content: the last resort serializes the whole record.
func Normalize(raw any) Candidate {
	switch v := raw.(type) {
	case string:
		return Candidate{Content: v}
	case map[string]any:
		return Candidate{
			Content:  extractContent(v),
			Category: detectCategory(v),
			Raw:      v,
		}
	default:
		return Candidate{Content: serialize(raw)}
	}
}

func extractContent(rec map[string]any) string {
	var content string
	for _, field := range contentFields {
		if s, ok := rec[field].(string); ok && strings.TrimSpace(s) != "" {
			content = s
			break
		}
	}

	if len(content) < minContentLength {
		if longest := longestStringField(rec); longest != "" {
			content = longest
		}
	}

	if content == "" {
		content = serialize(rec)
	}
	return content
}

// longestStringField scans all string-valued fields and returns the longest
// one exceeding the minimum length, or "".
func longestStringField(rec map[string]any) string {
	var longest string
	for _, v := range rec {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if len(s) > minContentLength && len(s) > len(longest) {
			longest = s
		}
	}
	return longest
}

func serialize(raw any) string {
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(b)
}

func detectCategory(rec map[string]any) *string {
	for _, field := range categoryFields {
		v, ok := rec[field]
		if !ok {
			continue
		}
		if cat := classifyValue(v); cat != nil {
			return cat
		}
	}

	// Last resort: any field whose name mentions rating or score.
	for name, v := range rec {
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "rating") && !strings.Contains(lower, "score") {
			continue
		}
		if cat := classifyValue(v); cat != nil {
			return cat
		}
	}
	return nil
}

// classifyValue maps one rating/score value to a category, or nil when the
// value is unrecognized (meaning "standard"/unclassified).
func classifyValue(v any) *string {
	switch t := v.(type) {
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if s == "" {
			return nil
		}
		if strings.Contains(s, "top") && strings.Contains(s, "10") {
			return categoryPtr(models.CategoryTop10)
		}
		if strings.Contains(s, "bottom") && strings.Contains(s, "10") {
			return categoryPtr(models.CategoryBottom10)
		}
		if topAliases[s] {
			return categoryPtr(models.CategoryTop10)
		}
		if bottomAliases[s] {
			return categoryPtr(models.CategoryBottom10)
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return classifyNumeric(n)
		}
		return nil
	case float64:
		return classifyNumeric(t)
	case float32:
		return classifyNumeric(float64(t))
	case int:
		return classifyNumeric(float64(t))
	case int64:
		return classifyNumeric(float64(t))
	case json.Number:
		if n, err := t.Float64(); err == nil {
			return classifyNumeric(n)
		}
		return nil
	default:
		return nil
	}
}

// classifyNumeric applies the numeric thresholds. Values on a 5-point scale
// classify as >=4 top / <=2 bottom; normalized fractional scores above 0.8
// classify as top. A value of exactly 1 reads as a 1-star rating, not a 100%
// score, so the fractional top rule excludes it and the bottom rule wins.
func classifyNumeric(n float64) *string {
	switch {
	case n >= 4:
		return categoryPtr(models.CategoryTop10)
	case n > 0.8 && n < 1:
		return categoryPtr(models.CategoryTop10)
	case n <= 2:
		return categoryPtr(models.CategoryBottom10)
	default:
		return nil
	}
}

func categoryPtr(c string) *string { return &c }
