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

// USGS parses the USGS earthquake Atom summary feed.
type USGS struct{}

func (USGS) Name() string { return models.FeedUSGS }

var (
	usgsURNRe   = regexp.MustCompile(`urn:earthquake-usgs-gov:([^:]+):([^:\s]+)`)
	usgsMagRe   = regexp.MustCompile(`^M\s*([\d.]+)`)
	usgsDepthRe = regexp.MustCompile(`(?is)<dt>\s*Depth\s*</dt>\s*<dd>\s*([\d.]+)\s*km`)
	usgsTimeRe  = regexp.MustCompile(`(?is)<dt>\s*Time\s*</dt>\s*<dd>\s*([^<]+?)\s*UTC\s*</dd>`)
)

const usgsTimeLayout = "2006-01-02 15:04:05"

func (USGS) Parse(raw []byte) ([]models.CanonicalEvent, error) {
	feed, err := parseFeed(raw)
	if err != nil {
		return nil, err
	}

	events := make([]models.CanonicalEvent, 0, len(feed.Items))
	for _, item := range feed.Items {
		if e, ok := usgsEvent(item); ok {
			events = append(events, e)
		}
	}
	return events, nil
}

func usgsEvent(item *gofeed.Item) (models.CanonicalEvent, bool) {
	m := usgsURNRe.FindStringSubmatch(item.GUID)
	if m == nil {
		skip(models.FeedUSGS, "unrecognised entry id", "id", item.GUID)
		return models.CanonicalEvent{}, false
	}

	summary := firstNonEmpty(item.Description, item.Content)
	title := strings.TrimSpace(item.Title)
	e := models.CanonicalEvent{
		ExternalID:  "usgs:" + m[1] + "_" + m[2],
		Type:        models.DisasterTypeEarthquake,
		Severity:    classify.USGSSeverity(summary),
		Title:       title,
		Country:     usgsCountry(title),
		Coordinates: geoRSSPoint(item.Extensions),
		EventTime:   publishedOrNow(item),
		Description: plainText(summary),
		Metadata:    map[string]any{},
	}

	var mag float64
	if mm := usgsMagRe.FindStringSubmatch(title); mm != nil {
		if f, err := strconv.ParseFloat(strings.TrimSuffix(mm[1], "."), 64); err == nil {
			mag = f
			e.Metadata["magnitude"] = f
		}
	}
	if dm := usgsDepthRe.FindStringSubmatch(summary); dm != nil {
		if f, err := strconv.ParseFloat(dm[1], 64); err == nil {
			e.Metadata["depth_km"] = f
		}
	}
	if tm := usgsTimeRe.FindStringSubmatch(summary); tm != nil {
		if t, err := time.ParseInLocation(usgsTimeLayout, tm[1], time.UTC); err == nil {
			e.EventTime = t
		}
	}
	if lvl := classify.PagerLevel(summary); lvl != "" {
		e.Metadata["pager"] = lvl
	}
	e.AffectedPopulation = usgsAffected(e.Severity, mag)
	return e, true
}

// usgsCountry reads the place clause after " - " in titles such as
// "M 6.1 - 45 km SSW of Lebu, Chile" or "M 5.0 - Fiji region".
func usgsCountry(title string) string {
	_, place, ok := strings.Cut(title, " - ")
	if !ok {
		return ""
	}
	place = strings.TrimSpace(place)
	if i := strings.LastIndex(place, ","); i >= 0 {
		place = place[i+1:]
	} else if i := strings.LastIndex(place, " of "); i >= 0 {
		place = place[i+len(" of "):]
	}
	place = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(place), " region"))
	place = strings.TrimPrefix(place, "the ")
	if classify.IsUSState(place) {
		return "US"
	}
	return classify.ResolveCountryISO2(place)
}

// usgsAffected is a coarse exposure estimate keyed on PAGER level and
// magnitude.
func usgsAffected(sev models.Severity, mag float64) *int64 {
	switch {
	case sev == models.SeverityRed && mag >= 7.0:
		return models.Int64(1_000_000)
	case sev == models.SeverityRed:
		return models.Int64(250_000)
	case sev == models.SeverityOrange && mag >= 6.5:
		return models.Int64(100_000)
	case sev == models.SeverityOrange:
		return models.Int64(25_000)
	case mag >= 6.0:
		return models.Int64(5_000)
	default:
		return nil
	}
}
