package classify

import (
	"regexp"
	"strings"

	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

type typeRule struct {
	re  *regexp.Regexp
	typ models.DisasterType
}

// Order matters: a cyclone bulletin routinely mentions flooding, and the
// first four categories are stronger signals than landslide/drought.
var typeRules = []typeRule{
	{regexp.MustCompile(`(?i)\b(earthquakes?|quakes?|seismic|tremors?|aftershocks?)\b`), models.DisasterTypeEarthquake},
	{regexp.MustCompile(`(?i)\b(cyclones?|hurricanes?|typhoons?|tropical\s+(storm|depression|cyclone))\b`), models.DisasterTypeCyclone},
	{regexp.MustCompile(`(?i)\b(floods?|flooding|flash\s+floods?|inundations?|torrential\s+rains?)\b`), models.DisasterTypeFlood},
	{regexp.MustCompile(`(?i)\b(wild\s?fires?|forest\s+fires?|bush\s?fires?|brush\s+fires?|fire\s+weather|red\s+flag)\b`), models.DisasterTypeWildfire},
	{regexp.MustCompile(`(?i)\b(landslides?|mudslides?|mudflows?|debris\s+flows?|rock\s?falls?)\b`), models.DisasterTypeLandslide},
	{regexp.MustCompile(`(?i)\b(droughts?|dry\s+spells?|water\s+shortages?)\b`), models.DisasterTypeDrought},
}

// GDACS-style event codes sometimes arrive as the bare type hint.
var typeCodes = map[string]models.DisasterType{
	"EQ": models.DisasterTypeEarthquake,
	"TC": models.DisasterTypeCyclone,
	"FL": models.DisasterTypeFlood,
	"WF": models.DisasterTypeWildfire,
	"LS": models.DisasterTypeLandslide,
	"DR": models.DisasterTypeDrought,
}

// ClassifyType picks a disaster category from all available text. It never
// fails: text that matches nothing is DisasterTypeOther.
func ClassifyType(typeHint, title, description string) models.DisasterType {
	if t, ok := typeCodes[strings.ToUpper(strings.TrimSpace(typeHint))]; ok {
		return t
	}
	haystack := typeHint + " " + title + " " + description
	for _, r := range typeRules {
		if r.re.MatchString(haystack) {
			return r.typ
		}
	}
	return models.DisasterTypeOther
}
