package classify

import (
	"regexp"
	"strconv"
	"strings"
)

const numberWindow = 120

var (
	deathWordsRe    = regexp.MustCompile(`(?i)\b(dead|deaths?|died|killed|kills|fatalit(y|ies)|casualt(y|ies)|death\s+toll|lives\s+lost|bodies)\b`)
	affectedWordsRe = regexp.MustCompile(`(?i)\b(affected|displaced|evacuated|homeless|impacted|stranded|people\s+in\s+need)\b`)
	countRe         = regexp.MustCompile(`(?i)(\d{1,3}(?:,\d{3})+|\d+(?:\.\d+)?)\s*(million|thousand|m|k)?\b`)
	magnitudeRe     = regexp.MustCompile(`(?i)(?:\bmagnitude|\bmag\.?)\s*(?:of\s+)?[:=]?\s*(\d{1,2}(?:\.\d+)?)|\bM\s?(\d(?:\.\d+)?)\b|\b(\d(?:\.\d+)?)[\s-]*magnitude\b`)
	categoryRe      = regexp.MustCompile(`(?i)\bcat(?:egory)?\.?\s*(\d)\b`)
)

// DeathCount returns the largest number found near a casualty keyword, or 0.
func DeathCount(text string) int64 {
	return maxNumberNear(text, deathWordsRe)
}

// AffectedCount returns the largest number found near an affected/displaced
// keyword, or 0.
func AffectedCount(text string) int64 {
	return maxNumberNear(text, affectedWordsRe)
}

func maxNumberNear(text string, keywords *regexp.Regexp) int64 {
	var best int64
	for _, loc := range keywords.FindAllStringIndex(text, -1) {
		start := max(0, loc[0]-numberWindow)
		end := min(len(text), loc[1]+numberWindow)
		for _, m := range countRe.FindAllStringSubmatch(text[start:end], -1) {
			if n, ok := parseCount(m[1], m[2]); ok && n > best {
				best = n
			}
		}
	}
	return best
}

// parseCount understands "12,500", "3.4 million", "40k". Bare four-digit
// numbers in the 1900-2100 range are treated as years and ignored.
func parseCount(digits, suffix string) (int64, bool) {
	grouped := strings.Contains(digits, ",")
	v, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToLower(suffix) {
	case "k", "thousand":
		v *= 1_000
	case "m", "million":
		v *= 1_000_000
	default:
		if !grouped && len(digits) == 4 && v >= 1900 && v <= 2100 {
			return 0, false
		}
	}
	return int64(v), true
}

// ExtractMagnitude finds a seismic magnitude such as "M 6.1", "M6.1",
// "magnitude 6.1" or "6.1-magnitude".
func ExtractMagnitude(text string) (float64, bool) {
	for _, m := range magnitudeRe.FindAllStringSubmatch(text, -1) {
		for _, g := range m[1:] {
			if g == "" {
				continue
			}
			if v, err := strconv.ParseFloat(g, 64); err == nil && v > 0 && v <= 10 {
				return v, true
			}
		}
	}
	return 0, false
}

// ExtractCategory finds a storm category ("Category 3", "Cat. 4").
func ExtractCategory(text string) (int, bool) {
	m := categoryRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	c, err := strconv.Atoi(m[1])
	if err != nil || c > 5 {
		return 0, false
	}
	return c, true
}

// SaffirSimpson converts sustained wind in knots to a hurricane category;
// 0 means below hurricane strength.
func SaffirSimpson(windKt float64) int {
	switch {
	case windKt >= 137:
		return 5
	case windKt >= 113:
		return 4
	case windKt >= 96:
		return 3
	case windKt >= 83:
		return 2
	case windKt >= 64:
		return 1
	default:
		return 0
	}
}
