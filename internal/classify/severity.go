package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

// Each upstream exposes a different kind of signal, so severity is derived
// per source. The functions below are all total: any input yields a level.

// GDACSSeverity maps a GDACS alert-level token.
func GDACSSeverity(alertLevel string) models.Severity {
	switch strings.ToLower(strings.TrimSpace(alertLevel)) {
	case "red":
		return models.SeverityRed
	case "orange":
		return models.SeverityOrange
	default:
		return models.SeverityGreen
	}
}

var (
	pagerClassRe = regexp.MustCompile(`(?i)class="[^"]*\balert\s+(red|orange|yellow|green)\b`)
	pagerTextRe  = regexp.MustCompile(`(?is)pager.{0,80}?\b(red|orange|yellow|green)\b`)
)

// PagerLevel extracts the PAGER alert colour from a USGS summary, lowercased,
// or "" when none is present.
func PagerLevel(summaryHTML string) string {
	if m := pagerClassRe.FindStringSubmatch(summaryHTML); m != nil {
		return strings.ToLower(m[1])
	}
	if m := pagerTextRe.FindStringSubmatch(summaryHTML); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

// USGSSeverity uses only the PAGER level; magnitude is deliberately ignored.
func USGSSeverity(summaryHTML string) models.Severity {
	switch PagerLevel(summaryHTML) {
	case "red":
		return models.SeverityRed
	case "orange", "yellow":
		return models.SeverityOrange
	default:
		return models.SeverityGreen
	}
}

var (
	redKeywordsRe    = regexp.MustCompile(`(?i)\b(catastrophic|devastat(ing|ed|ion)|deadliest|massive\s+destruction|widespread\s+destruction|mass\s+casualt(y|ies)|unprecedented)\b`)
	orangeKeywordsRe = regexp.MustCompile(`(?i)\b(major|severe|emergency|evacuat(e|ed|ion|ions)|flash\s+floods?|displaced|destroyed|red\s+alert|orange\s+alert)\b`)
	outOfControlRe   = regexp.MustCompile(`(?i)\bout\s+of\s+control\b`)
)

// ReliefWebSeverity infers severity from free text. The first rule that
// yields something above GREEN wins: type-specific thresholds, then generic
// casualty/affected thresholds, then keywords, then the wildfire rule.
func ReliefWebSeverity(t models.DisasterType, text string) models.Severity {
	deaths := DeathCount(text)
	affected := AffectedCount(text)

	if s := typeThresholdSeverity(t, text, deaths, affected); s != models.SeverityGreen {
		return s
	}
	if s := impactSeverity(deaths, affected); s != models.SeverityGreen {
		return s
	}
	switch {
	case redKeywordsRe.MatchString(text):
		return models.SeverityRed
	case orangeKeywordsRe.MatchString(text):
		return models.SeverityOrange
	}
	if t == models.DisasterTypeWildfire && outOfControlRe.MatchString(text) {
		return models.SeverityOrange
	}
	return models.SeverityGreen
}

func typeThresholdSeverity(t models.DisasterType, text string, deaths, affected int64) models.Severity {
	switch t {
	case models.DisasterTypeEarthquake:
		if mag, ok := ExtractMagnitude(text); ok {
			return EarthquakeMagnitudeSeverity(mag)
		}
	case models.DisasterTypeCyclone:
		if cat, ok := ExtractCategory(text); ok {
			return CycloneCategorySeverity(cat)
		}
	case models.DisasterTypeLandslide:
		switch {
		case deaths >= 10:
			return models.SeverityRed
		case affected >= 5_000:
			return models.SeverityOrange
		}
	case models.DisasterTypeDrought:
		switch {
		case affected >= 500_000:
			return models.SeverityRed
		case affected >= 100_000:
			return models.SeverityOrange
		}
	}
	return models.SeverityGreen
}

func impactSeverity(deaths, affected int64) models.Severity {
	switch {
	case deaths >= 25 || affected >= 250_000:
		return models.SeverityRed
	case deaths >= 5 || affected >= 25_000:
		return models.SeverityOrange
	default:
		return models.SeverityGreen
	}
}

func EarthquakeMagnitudeSeverity(mag float64) models.Severity {
	switch {
	case mag >= 6.8:
		return models.SeverityRed
	case mag >= 5.8:
		return models.SeverityOrange
	default:
		return models.SeverityGreen
	}
}

func CycloneCategorySeverity(category int) models.Severity {
	switch {
	case category >= 3:
		return models.SeverityRed
	case category >= 1:
		return models.SeverityOrange
	default:
		return models.SeverityGreen
	}
}

// NOAACAPSeverity ranks an NWS alert. Unknown combinations default to ORANGE:
// an alert we cannot read should err toward attention.
func NOAACAPSeverity(title, capSeverity, urgency string) models.Severity {
	t := strings.ToLower(title)
	sev := strings.ToLower(strings.TrimSpace(capSeverity))
	urg := strings.ToLower(strings.TrimSpace(urgency))

	switch {
	case strings.Contains(t, "tsunami warning"):
		return models.SeverityRed
	case sev == "extreme" || strings.Contains(t, "extreme") || strings.Contains(t, "emergency"):
		return models.SeverityRed
	case sev == "severe" && urg == "immediate":
		return models.SeverityRed
	case strings.Contains(t, "flash flood warning"):
		return models.SeverityRed
	case strings.Contains(t, "warning") && !strings.Contains(t, "watch"):
		return models.SeverityOrange
	case sev == "severe" || sev == "moderate":
		return models.SeverityOrange
	case sev == "minor" || strings.Contains(t, "advisory") || strings.Contains(t, "watch"):
		return models.SeverityGreen
	default:
		return models.SeverityOrange
	}
}

// FIRMSConfidence normalises a FIRMS confidence column to a percentage.
// MODIS reports 0-100, VIIRS reports l/n/h.
func FIRMSConfidence(raw string) float64 {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "h", "high":
		return 90
	case "n", "nominal":
		return 60
	case "l", "low":
		return 30
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
	if err != nil {
		return 0
	}
	return f
}

// FIRMSSeverity combines detection confidence (%) and fire radiative power (MW).
func FIRMSSeverity(confidence, frp float64) models.Severity {
	switch {
	case confidence >= 80 || frp >= 100:
		return models.SeverityRed
	case confidence >= 50 || frp >= 50:
		return models.SeverityOrange
	default:
		return models.SeverityGreen
	}
}
