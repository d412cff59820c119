package parser

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/mr1hm/go-disaster-ingest/internal/classify"
	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

// NOAACAP parses the api.weather.gov active alerts Atom feed (CAP 1.2).
// External ids are "noaa:" plus the full dotted tail of the entry's urn:oid,
// which is stable across re-fetches of the same alert.
type NOAACAP struct{}

func (NOAACAP) Name() string { return models.FeedNOAACAP }

var (
	capOIDRe    = regexp.MustCompile(`urn:oid:([\w.\-]+)`)
	capIgnoreRe = regexp.MustCompile(`(?i)test message|monitoring message|please disregard`)

	capEventTypes = []struct {
		re  *regexp.Regexp
		typ models.DisasterType
	}{
		{regexp.MustCompile(`(?i)tsunami`), models.DisasterTypeOther},
		{regexp.MustCompile(`(?i)hurricane|tropical storm|typhoon|storm surge`), models.DisasterTypeCyclone},
		{regexp.MustCompile(`(?i)flood`), models.DisasterTypeFlood},
		{regexp.MustCompile(`(?i)fire|red flag`), models.DisasterTypeWildfire},
		{regexp.MustCompile(`(?i)earthquake`), models.DisasterTypeEarthquake},
		{regexp.MustCompile(`(?i)landslide|debris flow|mudslide`), models.DisasterTypeLandslide},
		{regexp.MustCompile(`(?i)drought`), models.DisasterTypeDrought},
	}

	metroAreas = []string{
		"new york", "los angeles", "chicago", "houston", "phoenix", "philadelphia",
		"san antonio", "san diego", "dallas", "san jose", "austin", "jacksonville",
		"san francisco", "seattle", "denver", "washington", "boston", "miami",
		"atlanta", "detroit", "minneapolis", "tampa", "new orleans", "las vegas",
	}
	coastalRe = regexp.MustCompile(`(?i)\b(coast(al)?|beach(es)?|bay|shore(line)?|island)\b`)
)

const capBasePopulation = 10_000

func (NOAACAP) Parse(raw []byte) ([]models.CanonicalEvent, error) {
	feed, err := parseFeed(raw)
	if err != nil {
		return nil, err
	}

	events := make([]models.CanonicalEvent, 0, len(feed.Items))
	for _, item := range feed.Items {
		if e, ok := capEvent(item); ok {
			events = append(events, e)
		}
	}
	return events, nil
}

func capEvent(item *gofeed.Item) (models.CanonicalEvent, bool) {
	x := item.Extensions
	title := strings.TrimSpace(item.Title)
	summary := firstNonEmpty(item.Description, item.Content)

	if capIgnoreRe.MatchString(title) || capIgnoreRe.MatchString(summary) {
		return models.CanonicalEvent{}, false
	}
	switch strings.ToLower(extValue(x, "cap", "status")) {
	case "test", "exercise":
		return models.CanonicalEvent{}, false
	}

	event := firstNonEmpty(extValue(x, "cap", "event"), title)
	typ, ok := capType(event)
	if !ok {
		return models.CanonicalEvent{}, false
	}

	id := item.GUID
	if m := capOIDRe.FindStringSubmatch(id); m != nil {
		id = m[1]
	}
	if id == "" {
		skip(models.FeedNOAACAP, "no identifier", "title", title)
		return models.CanonicalEvent{}, false
	}

	capSeverity := extValue(x, "cap", "severity")
	urgency := extValue(x, "cap", "urgency")
	areaDesc := extValue(x, "cap", "areaDesc")
	pop := capAffected(capSeverity, urgency, areaDesc)

	return models.CanonicalEvent{
		ExternalID:         "noaa:" + id,
		Type:               typ,
		Severity:           classify.NOAACAPSeverity(title, capSeverity, urgency),
		Title:              title,
		Country:            "US",
		Coordinates:        capLocation(extValue(x, "cap", "polygon"), areaDesc),
		EventTime:          capTime(item),
		Description:        plainText(summary),
		AffectedPopulation: &pop,
		Metadata: map[string]any{
			"event":        event,
			"cap_severity": capSeverity,
			"urgency":      urgency,
			"area":         areaDesc,
		},
	}, true
}

// capType returns false for alert kinds outside the tracked categories.
func capType(event string) (models.DisasterType, bool) {
	for _, r := range capEventTypes {
		if r.re.MatchString(event) {
			return r.typ, true
		}
	}
	return "", false
}

func capLocation(polygon, areaDesc string) *models.Coordinates {
	if c := polygonCentroid(polygon); c != nil {
		return c
	}
	if lat, lng, ok := classify.LocateUSState(areaDesc); ok {
		return &models.Coordinates{Latitude: lat, Longitude: lng}
	}
	return &models.Coordinates{Latitude: classify.ConusCentroid.Lat, Longitude: classify.ConusCentroid.Lng}
}

// polygonCentroid averages the vertices of a CAP "lat,lng lat,lng ..." ring.
// The closing vertex repeats the first and is ignored.
func polygonCentroid(polygon string) *models.Coordinates {
	pairs := strings.Fields(polygon)
	if len(pairs) > 1 && pairs[0] == pairs[len(pairs)-1] {
		pairs = pairs[:len(pairs)-1]
	}
	var sumLat, sumLng float64
	n := 0
	for _, p := range pairs {
		latS, lngS, ok := strings.Cut(p, ",")
		if !ok {
			continue
		}
		lat, err1 := strconv.ParseFloat(latS, 64)
		lng, err2 := strconv.ParseFloat(lngS, 64)
		if err1 != nil || err2 != nil || !finite(lat) || !finite(lng) {
			continue
		}
		sumLat += lat
		sumLng += lng
		n++
	}
	if n == 0 {
		return nil
	}
	return &models.Coordinates{Latitude: sumLat / float64(n), Longitude: sumLng / float64(n)}
}

func capAffected(capSeverity, urgency, areaDesc string) int64 {
	sevMult := 1.0
	switch strings.ToLower(capSeverity) {
	case "extreme":
		sevMult = 5
	case "severe":
		sevMult = 3
	case "moderate":
		sevMult = 1.5
	}

	urgMult := 1.0
	switch strings.ToLower(urgency) {
	case "immediate":
		urgMult = 2
	case "expected":
		urgMult = 1.5
	}

	return int64(math.Round(capBasePopulation * sevMult * urgMult * areaMultiplier(areaDesc)))
}

func areaMultiplier(areaDesc string) float64 {
	lower := strings.ToLower(areaDesc)
	for _, m := range metroAreas {
		if strings.Contains(lower, m) {
			return 5
		}
	}
	switch {
	case strings.Contains(lower, "city"), strings.Contains(lower, "metro"):
		return 3
	case strings.Contains(lower, "county"):
		return 1.5
	case coastalRe.MatchString(areaDesc):
		return 1.2
	default:
		return 1
	}
}

func capTime(item *gofeed.Item) time.Time {
	for _, name := range []string{"effective", "sent"} {
		if v := extValue(item.Extensions, "cap", name); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t.UTC()
			}
		}
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return clock.Now().UTC()
}
