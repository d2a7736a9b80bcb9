package qc

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/justapithecus/darkroom/types"
)

// DefaultThreshold is the minimum passing sub-score on a 1-10 scale.
const DefaultThreshold = 8

// ErrUnparseable is returned when no JSON verdict can be scraped.
var ErrUnparseable = errors.New("unparseable verdict")

// ParseVerdict scrapes the first JSON object out of free text and maps it
// to a verdict. Code fences and surrounding prose are tolerated.
//
// Accepted shapes are {anatomy_score, identity_score, pass, issue} and
// pre-aggregated {pass, score|overall, issues} with any number of extra
// *_score or *_match sub-scores. The verifier's own pass flag is trusted
// when present; otherwise every sub-score must reach threshold.
func ParseVerdict(text string, threshold float64) (types.QCVerdict, error) {
	obj, ok := scrapeObject(text)
	if !ok {
		return types.QCVerdict{}, ErrUnparseable
	}

	var subScores []float64
	var aggregate *float64
	var pass *bool
	var issues string

	for key, raw := range obj {
		k := strings.ToLower(key)
		switch {
		case k == "pass" || k == "passed":
			if b, ok := asBool(raw); ok {
				pass = &b
			}
		case k == "issue" || k == "issues":
			issues = asText(raw)
		case k == "score" || k == "overall" || k == "overall_score":
			if f, ok := asNumber(raw); ok {
				aggregate = &f
			}
		case strings.HasSuffix(k, "_score") || strings.HasSuffix(k, "_match"):
			if f, ok := asNumber(raw); ok {
				subScores = append(subScores, f)
			}
		}
	}

	if pass == nil && aggregate == nil && len(subScores) == 0 {
		return types.QCVerdict{}, ErrUnparseable
	}

	v := types.QCVerdict{Issues: issues}
	switch {
	case aggregate != nil:
		v.Score = *aggregate
	case len(subScores) > 0:
		v.Score = minOf(subScores)
	}

	switch {
	case pass != nil:
		v.Pass = *pass
	case len(subScores) > 0:
		v.Pass = minOf(subScores) >= threshold
	default:
		v.Pass = v.Score >= threshold
	}

	if !v.Pass && v.Issues == "" {
		v.Issues = "unspecified issue"
	}
	return v, nil
}

// scrapeObject finds the first decodable {...} block.
func scrapeObject(text string) (map[string]any, bool) {
	text = stripFences(text)
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false
	}

	candidates := make([]string, 0, 2)
	if end := matchingBrace(text, start); end > start {
		candidates = append(candidates, text[start:end+1])
	}
	if last := strings.LastIndexByte(text, '}'); last > start {
		candidates = append(candidates, text[start:last+1])
	}

	for _, c := range candidates {
		var obj map[string]any
		if err := json.Unmarshal([]byte(c), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```JSON", "")
	return strings.ReplaceAll(text, "```", "")
}

// matchingBrace returns the index of the brace closing the one at start,
// skipping braces inside JSON strings. Returns -1 when unbalanced.
func matchingBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	default:
		return false, false
	}
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asText(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s := asText(p); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func minOf(xs []float64) float64 {
	m := math.Inf(1)
	for _, x := range xs {
		m = math.Min(m, x)
	}
	return m
}
