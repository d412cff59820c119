package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/mr1hm/go-disaster-ingest/internal/classify"
	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

// GDACS parses the GDACS RSS feed.
type GDACS struct{}

func (GDACS) Name() string { return models.FeedGDACS }

var gdacsTitleTypes = []struct {
	re  *regexp.Regexp
	typ models.DisasterType
}{
	{regexp.MustCompile(`(?i)earthquake`), models.DisasterTypeEarthquake},
	{regexp.MustCompile(`(?i)flood`), models.DisasterTypeFlood},
	{regexp.MustCompile(`(?i)cyclone|hurricane|typhoon`), models.DisasterTypeCyclone},
	{regexp.MustCompile(`(?i)wild\s?fire|forest fire`), models.DisasterTypeWildfire},
}

func (GDACS) Parse(raw []byte) ([]models.CanonicalEvent, error) {
	feed, err := parseFeed(raw)
	if err != nil {
		return nil, err
	}

	events := make([]models.CanonicalEvent, 0, len(feed.Items))
	for _, item := range feed.Items {
		if e, ok := gdacsEvent(item); ok {
			events = append(events, e)
		}
	}
	return events, nil
}

func gdacsEvent(item *gofeed.Item) (models.CanonicalEvent, bool) {
	x := item.Extensions
	id := firstNonEmpty(extValue(x, "gdacs", "eventid"), item.GUID, item.Link, item.Title)
	if id == "" {
		skip(models.FeedGDACS, "no identifier")
		return models.CanonicalEvent{}, false
	}

	eventType := extValue(x, "gdacs", "eventtype")
	e := models.CanonicalEvent{
		ExternalID:  "gdacs:" + id,
		Type:        gdacsType(item.Title, eventType),
		Severity:    classify.GDACSSeverity(extValue(x, "gdacs", "alertlevel")),
		Title:       strings.TrimSpace(item.Title),
		Coordinates: geoRSSPoint(x),
		EventTime:   publishedOrNow(item),
		Description: plainText(item.Description),
		Metadata:    map[string]any{},
	}

	if c := extValue(x, "gdacs", "country"); c != "" {
		first, _, _ := strings.Cut(c, ",")
		e.Country = classify.ResolveCountryISO2(first)
	}
	if v := extAttr(x, "gdacs", "population", "value"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			e.AffectedPopulation = models.Int64(int64(n))
		}
	}
	if eventType != "" {
		e.Metadata["event_type"] = strings.ToUpper(eventType)
	}
	if v := extAttr(x, "gdacs", "severity", "value"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			e.Metadata["gdacs_severity"] = f
		}
	}
	if v := extValue(x, "gdacs", "alertscore"); v != "" {
		e.Metadata["alert_score"] = v
	}
	return e, true
}

// gdacsType prefers the title, then the GDACS event code.
func gdacsType(title, eventType string) models.DisasterType {
	for _, r := range gdacsTitleTypes {
		if r.re.MatchString(title) {
			return r.typ
		}
	}
	return mapGDACSEventType(eventType)
}

func mapGDACSEventType(eventType string) models.DisasterType {
	switch strings.ToUpper(strings.TrimSpace(eventType)) {
	case "EQ":
		return models.DisasterTypeEarthquake
	case "TC":
		return models.DisasterTypeCyclone
	case "FL":
		return models.DisasterTypeFlood
	case "WF":
		return models.DisasterTypeWildfire
	case "DR":
		return models.DisasterTypeDrought
	default:
		return models.DisasterTypeOther
	}
}

func publishedOrNow(item *gofeed.Item) time.Time {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC()
	default:
		return clock.Now().UTC()
	}
}
