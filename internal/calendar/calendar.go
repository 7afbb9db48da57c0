// Package calendar exports favorited grant deadlines as an iCalendar feed.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
)

const (
	productID     = "-//Grant Tracker//Convocatorias//ES"
	summaryPrefix = "CIERRE: "
	localLayout   = "20060102T150405"
)

type FavoriteLister interface {
	ListFavorites(ctx context.Context, userID uuid.UUID) ([]models.Favorite, error)
}

// Event is one deadline entry, in the exporter's time zone.
type Event struct {
	UID         string
	Summary     string
	Description string
	URL         string
	Start       time.Time
	End         time.Time
}

type Exporter struct {
	Favorites FavoriteLister
	Location  *time.Location
	Now       func() time.Time
}

func NewExporter(favorites FavoriteLister, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{Favorites: favorites, Location: loc, Now: func() time.Time { return time.Now().UTC() }}
}

// Events projects favorites with a close date into deadline events, 09:00 to 23:59 on that date.
func (e *Exporter) Events(favorites []models.Favorite) []Event {
	var out []Event
	for _, f := range favorites {
		g := f.Grant
		if g == nil || g.Timeline.CallClose == nil {
			continue
		}
		y, m, d := g.Timeline.CallClose.In(e.Location).Date()
		out = append(out, Event{
			UID:         fmt.Sprintf("%s@grant-tracker", g.ID),
			Summary:     summaryPrefix + g.Name,
			Description: describe(g),
			URL:         g.Links.OfficialURL,
			Start:       time.Date(y, m, d, 9, 0, 0, 0, e.Location),
			End:         time.Date(y, m, d, 23, 59, 0, 0, e.Location),
		})
	}
	return out
}

func describe(g *models.Grant) string {
	var lines []string
	if g.Organization.Name != "" {
		lines = append(lines, "Organismo: "+g.Organization.Name)
	}
	if g.Links.OfficialURL != "" {
		lines = append(lines, "Más información: "+g.Links.OfficialURL)
	}
	return strings.Join(lines, "\n")
}

// Export renders the user's deadline calendar. No qualifying favorites is ErrNotFound.
func (e *Exporter) Export(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	favorites, err := e.Favorites.ListFavorites(ctx, userID)
	if err != nil {
		return nil, err
	}
	events := e.Events(favorites)
	if len(events) == 0 {
		return nil, apperr.NotFound("favorites with deadlines for user", userID)
	}
	return []byte(e.Render(events)), nil
}

func (e *Exporter) Render(events []Event) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName("Cierres de convocatorias")
	cal.SetXWRTimezone(e.Location.String())

	stamp := e.Now()
	tz := &ics.KeyValues{Key: string(ics.ParameterTzid), Value: []string{e.Location.String()}}
	for _, ev := range events {
		item := cal.AddEvent(ev.UID)
		item.SetDtStampTime(stamp)
		item.SetProperty(ics.ComponentPropertyDtStart, ev.Start.Format(localLayout), tz)
		item.SetProperty(ics.ComponentPropertyDtEnd, ev.End.Format(localLayout), tz)
		item.SetSummary(ev.Summary)
		if ev.Description != "" {
			item.SetDescription(ev.Description)
		}
		if ev.URL != "" {
			item.SetURL(ev.URL)
		}
	}
	return cal.Serialize()
}
