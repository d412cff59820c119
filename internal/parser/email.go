package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-disaster-ingest/internal/classify"
	"github.com/mr1hm/go-disaster-ingest/internal/models"
)

// ErrEmptyEmail is returned when an email carries neither a subject nor any
// recognisable event content.
var ErrEmptyEmail = errors.New("email has no event content")

const (
	newsletterMarkerA = "Global Disaster Alert and Coordination System"
	newsletterMarkerB = "Disaster events in the last 24 hours"
	cycloneWindow     = 800
)

var (
	labelRes = map[string]*regexp.Regexp{}

	newsletterEQRe = regexp.MustCompile(`(?i)(Green|Orange|Red)\s+earthquake\s+alert\s*\(\s*Magnitude\s+([\d.]+)\s*M\s*,\s*Depth\s*:\s*([\d.]+)\s*km\s*\)\s+in\s+(.+?)\s+(\d{2}/\d{2}/\d{4})\s+(\d{2}:\d{2})\s+UTC`)
	newsletterTCRe = regexp.MustCompile(`(?i)(Green|Orange|Red)\s+alert\s+for\s+tropical\s+cyclone\s+([A-Z][A-Z0-9-]*)\.`)
	tcRangeRe      = regexp.MustCompile(`(?i)From\s+(\d{2}/\d{2}/\d{4})(?:\s+\d{2}:\d{2})?\s+to\s+(\d{2}/\d{2}/\d{4})`)
	tcCountriesRe  = regexp.MustCompile(`(?i)The\s+cyclone\s+affects\s+these\s+countries:\s*([^\n.]+)`)
	tcWindRe       = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*km/h`)
	slugRe         = regexp.MustCompile(`[^a-z0-9]+`)
)

func init() {
	for _, l := range []string{"ID", "Type", "Severity", "Title", "Country", "Lat", "Lng", "Date", "Description"} {
		labelRes[l] = regexp.MustCompile(`(?im)^[ \t]*` + l + `[ \t]*:[ \t]*(.+?)[ \t]*$`)
	}
}

// ParseEmail extracts events from an email. GDACS daily newsletters yield one
// event per listed earthquake and cyclone; anything else is read as a single
// labeled event.
func ParseEmail(subject, body string) ([]models.CanonicalEvent, error) {
	if IsNewsletter(body) {
		if events := ParseNewsletter(body); len(events) > 0 {
			return events, nil
		}
	}
	e, err := ParseEmailSingle(subject, body)
	if err != nil {
		return nil, err
	}
	return []models.CanonicalEvent{e}, nil
}

func IsNewsletter(body string) bool {
	return strings.Contains(body, newsletterMarkerA) && strings.Contains(body, newsletterMarkerB)
}

// ParseEmailSingle reads "Label: value" lines. Without an "ID:" line the event
// gets a random id, so re-sending the same email creates a new record.
func ParseEmailSingle(subject, body string) (models.CanonicalEvent, error) {
	text := subject + "\n" + body
	label := func(name string) string {
		if m := labelRes[name].FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
		return ""
	}

	title := firstNonEmpty(label("Title"), subject)
	desc := label("Description")
	if title == "" && desc == "" {
		return models.CanonicalEvent{}, ErrEmptyEmail
	}

	id := label("ID")
	switch {
	case id == "":
		id = "email:" + uuid.NewString()
	case !strings.Contains(id, ":"):
		id = "email:" + id
	}

	e := models.CanonicalEvent{
		ExternalID:  id,
		Type:        classify.ClassifyType(label("Type"), title, desc),
		Severity:    classify.GDACSSeverity(label("Severity")),
		Title:       title,
		Country:     emailCountry(label("Country")),
		EventTime:   emailDate(label("Date")),
		Description: desc,
	}
	lat, err1 := strconv.ParseFloat(label("Lat"), 64)
	lng, err2 := strconv.ParseFloat(label("Lng"), 64)
	if err1 == nil && err2 == nil && finite(lat) && finite(lng) {
		e.Coordinates = &models.Coordinates{Latitude: lat, Longitude: lng}
	}
	return e, nil
}

func emailCountry(v string) string {
	if len(v) == 2 && strings.ToUpper(v) == v {
		return v
	}
	return classify.ResolveCountryISO2(v)
}

// emailDate accepts RFC 3339, the GDACS "dd/mm/yyyy hh:mm" (day first, UTC)
// and a bare ISO date.
func emailDate(v string) time.Time {
	for _, layout := range []string{time.RFC3339, "02/01/2006 15:04", "02/01/2006", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC()
		}
	}
	return clock.Now().UTC()
}

// ParseNewsletter scans a GDACS newsletter body for earthquake and tropical
// cyclone alerts, earthquakes first.
func ParseNewsletter(body string) []models.CanonicalEvent {
	var events []models.CanonicalEvent

	for _, m := range newsletterEQRe.FindAllStringSubmatch(body, -1) {
		mag, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		depth, _ := strconv.ParseFloat(m[3], 64)
		place := strings.TrimSpace(m[4])
		ts, err := time.ParseInLocation("02/01/2006 15:04", m[5]+" "+m[6], time.UTC)
		if err != nil {
			skip(models.FeedEmail, "bad newsletter date", "value", m[5]+" "+m[6])
			continue
		}
		events = append(events, models.CanonicalEvent{
			ExternalID:  fmt.Sprintf("gdacs-email:eq-%s-%s-%s", slug(place), ts.Format("200601021504"), m[2]),
			Type:        models.DisasterTypeEarthquake,
			Severity:    classify.GDACSSeverity(m[1]),
			Title:       fmt.Sprintf("M %s earthquake in %s", m[2], place),
			Country:     classify.ResolveCountryISO2(place),
			EventTime:   ts,
			Description: strings.Join(strings.Fields(m[0]), " "),
			Metadata:    map[string]any{"magnitude": mag, "depth_km": depth},
		})
	}

	for _, loc := range newsletterTCRe.FindAllStringSubmatchIndex(body, -1) {
		sev := body[loc[2]:loc[3]]
		name := strings.ToUpper(body[loc[4]:loc[5]])
		end := min(loc[1]+cycloneWindow, len(body))
		window := body[loc[1]:end]

		e := models.CanonicalEvent{
			Type:     models.DisasterTypeCyclone,
			Severity: classify.GDACSSeverity(sev),
			Title:    "Tropical Cyclone " + name,
			Metadata: map[string]any{"name": name},
		}
		from := ""
		if r := tcRangeRe.FindStringSubmatch(window); r != nil {
			if t, err := time.ParseInLocation("02/01/2006", r[1], time.UTC); err == nil {
				e.EventTime = t
				from = t.Format("20060102")
			}
			e.Metadata["from"] = r[1]
			e.Metadata["to"] = r[2]
		}
		if e.EventTime.IsZero() {
			e.EventTime = clock.Now().UTC()
		}
		if c := tcCountriesRe.FindStringSubmatch(window); c != nil {
			countries := splitList(c[1])
			e.Metadata["countries"] = countries
			for _, name := range countries {
				if iso := classify.ResolveCountryISO2(name); iso != "" {
					e.Country = iso
					break
				}
			}
		}
		if cat, ok := classify.ExtractCategory(window); ok {
			e.Metadata["category"] = cat
		} else if w := tcWindRe.FindStringSubmatch(window); w != nil {
			kmh, _ := strconv.ParseFloat(w[1], 64)
			e.Metadata["wind_kmh"] = kmh
			e.Metadata["category"] = classify.SaffirSimpson(kmh / 1.852)
		}
		e.ExternalID = "gdacs-email:tc-" + slug(name)
		if from != "" {
			e.ExternalID += "-" + from
		}
		e.Description = strings.Join(strings.Fields(body[loc[0]:end]), " ")
		events = append(events, e)
	}
	return events
}

func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(p), "and "))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func slug(s string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
