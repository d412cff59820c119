package parser

import (
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/mr1hm/go-disaster-ingest/internal/classify"
	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

// ReliefWeb parses the ReliefWeb disasters RSS feed. It carries no severity
// field, so severity is inferred from the item text.
type ReliefWeb struct{}

func (ReliefWeb) Name() string { return models.FeedReliefWeb }

var (
	properNounRe = regexp.MustCompile(`^\p{Lu}[\p{L}'.-]*(?:[ ,]+(?:of|the|and|\p{Lu}[\p{L}'.()-]*))*$`)
	genericTags  = map[string]bool{
		"disaster": true, "disasters": true, "update": true, "report": true,
		"situation report": true, "news and press release": true, "appeal": true,
		"alert": true, "ongoing": true, "past disaster": true, "analysis": true,
		"map": true, "infographic": true, "assessment": true, "manual": true,
	}
)

func (ReliefWeb) Parse(raw []byte) ([]models.CanonicalEvent, error) {
	feed, err := parseFeed(raw)
	if err != nil {
		return nil, err
	}

	events := make([]models.CanonicalEvent, 0, len(feed.Items))
	for _, item := range feed.Items {
		if e, ok := reliefWebEvent(item); ok {
			events = append(events, e)
		}
	}
	return events, nil
}

func reliefWebEvent(item *gofeed.Item) (models.CanonicalEvent, bool) {
	id := firstNonEmpty(item.GUID, item.Link)
	if id == "" {
		skip(models.FeedReliefWeb, "no guid", "title", item.Title)
		return models.CanonicalEvent{}, false
	}

	desc := plainText(firstNonEmpty(item.Description, item.Content))
	text := strings.Join(append([]string{item.Title, desc}, item.Categories...), " ")
	typ := classify.ClassifyType("", item.Title, text)

	e := models.CanonicalEvent{
		ExternalID:  "reliefweb:" + id,
		Type:        typ,
		Severity:    classify.ReliefWebSeverity(typ, text),
		Title:       strings.TrimSpace(item.Title),
		Country:     reliefWebCountry(item),
		Coordinates: geoRSSPoint(item.Extensions),
		EventTime:   publishedOrNow(item),
		Description: desc,
	}
	if len(item.Categories) > 0 {
		e.Metadata = map[string]any{"categories": item.Categories}
	}
	return e, true
}

// reliefWebCountry takes the first category that reads like a place name and
// resolves, then falls back to the "Country: ..." title prefix.
func reliefWebCountry(item *gofeed.Item) string {
	for _, c := range item.Categories {
		c = strings.TrimSpace(c)
		if c == "" || genericTags[strings.ToLower(c)] || !properNounRe.MatchString(c) {
			continue
		}
		if classify.ClassifyType("", c, "") != models.DisasterTypeOther {
			continue
		}
		if iso := classify.ResolveCountryISO2(c); iso != "" {
			return iso
		}
	}
	if prefix, _, ok := strings.Cut(item.Title, ":"); ok {
		return classify.ResolveCountryISO2(prefix)
	}
	return ""
}
