package alerts

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/david/grant-tracker/internal/metrics"
	"github.com/david/grant-tracker/internal/models"
	"github.com/david/grant-tracker/internal/notify"
)

const digestWindow = 24 * time.Hour

type ProfileStore interface {
	GetAlertProfile(ctx context.Context, userID uuid.UUID) (*models.AlertProfile, error)
	UpsertAlertProfile(ctx context.Context, p *models.AlertProfile) error
	DeleteAlertProfile(ctx context.Context, userID uuid.UUID) error
	ListAlertProfiles(ctx context.Context, freq models.AlertFrequency) ([]models.AlertProfile, error)
}

type GrantLister interface {
	ListActiveGrants(ctx context.Context) ([]models.Grant, error)
}

type NotificationStore interface {
	CreateNotificationOnce(ctx context.Context, n *models.Notification) (bool, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, f models.NotificationFilter) ([]models.Notification, error)
}

type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Matcher evaluates profiles against grants. Each (user, grant) pair is notified at most once;
// the store's unique constraint makes the check-and-insert atomic.
type Matcher struct {
	Profiles ProfileStore
	Grants   GrantLister
	Notes    NotificationStore
	Users    UserLookup
	Mail     notify.Sender
	Now      func() time.Time
}

func NewMatcher(profiles ProfileStore, grants GrantLister, notes NotificationStore, users UserLookup, mail notify.Sender) *Matcher {
	return &Matcher{
		Profiles: profiles,
		Grants:   grants,
		Notes:    notes,
		Users:    users,
		Mail:     mail,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// EvaluateGrants runs every stored profile against grants and returns the number of new notifications.
func (m *Matcher) EvaluateGrants(ctx context.Context, grants []models.Grant) (int, error) {
	if len(grants) == 0 {
		return 0, nil
	}
	profiles, err := m.Profiles.ListAlertProfiles(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list alert profiles: %w", err)
	}
	total := 0
	for i := range profiles {
		n, err := m.evaluate(ctx, &profiles[i], grants)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// EvaluateUser runs one user's profile against grants. A user without a profile gets nothing.
func (m *Matcher) EvaluateUser(ctx context.Context, userID uuid.UUID, grants []models.Grant) (int, error) {
	p, err := m.Profiles.GetAlertProfile(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return m.evaluate(ctx, p, grants)
}

// CheckNow re-runs the user's profile against every active grant.
func (m *Matcher) CheckNow(ctx context.Context, userID uuid.UUID) (int, error) {
	p, err := m.Profiles.GetAlertProfile(ctx, userID)
	if err != nil {
		return 0, err
	}
	grants, err := m.Grants.ListActiveGrants(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active grants: %w", err)
	}
	return m.evaluate(ctx, p, grants)
}

func (m *Matcher) evaluate(ctx context.Context, p *models.AlertProfile, grants []models.Grant) (int, error) {
	if !p.InAppEnabled && !p.EmailEnabled {
		return 0, nil
	}
	var fresh []models.Grant
	for i := range grants {
		g := &grants[i]
		if !Match(p, g) {
			continue
		}
		created, err := m.notifyMatch(ctx, p.UserID, g)
		if err != nil {
			return len(fresh), fmt.Errorf("notify user %s of grant %s: %w", p.UserID, g.ID, err)
		}
		if created {
			fresh = append(fresh, *g)
		}
	}
	if len(fresh) > 0 {
		metrics.AlertNotifications.Add(float64(len(fresh)))
		log.WithFields(log.Fields{"user_id": p.UserID, "matches": len(fresh)}).Info("[Alerts] New matches")
		if p.EmailEnabled && p.Frequency == models.AlertImmediate {
			m.mailImmediate(ctx, p.UserID, fresh)
		}
	}
	return len(fresh), nil
}

func (m *Matcher) notifyMatch(ctx context.Context, userID uuid.UUID, g *models.Grant) (bool, error) {
	grantID := g.ID
	n := &models.Notification{
		UserID:  userID,
		GrantID: &grantID,
		Type:    models.NotificationGrantMatch,
		Title:   "Nueva convocatoria: " + g.Name,
		Message: matchMessage(g),
	}
	return m.Notes.CreateNotificationOnce(ctx, n)
}

func matchMessage(g *models.Grant) string {
	parts := []string{}
	if g.Organization.Name != "" {
		parts = append(parts, g.Organization.Name)
	}
	if g.Funding.MaxAmount != nil {
		parts = append(parts, fmt.Sprintf("hasta %.0f €", *g.Funding.MaxAmount))
	}
	if g.Timeline.CallClose != nil {
		parts = append(parts, "cierre "+g.Timeline.CallClose.Format("02/01/2006"))
	}
	if len(parts) == 0 {
		return "Coincide con tus alertas."
	}
	return strings.Join(parts, " · ")
}

// mailImmediate is best effort: the notification stays even if delivery fails.
func (m *Matcher) mailImmediate(ctx context.Context, userID uuid.UUID, grants []models.Grant) {
	if m.Mail == nil {
		return
	}
	u, err := m.Users.GetUser(ctx, userID)
	if err != nil || u.Email == "" {
		log.WithField("user_id", userID).Warn("[Alerts] No email address for immediate alert")
		return
	}
	subject := fmt.Sprintf("%d nuevas convocatorias coinciden con tus alertas", len(grants))
	if len(grants) == 1 {
		subject = "Nueva convocatoria: " + grants[0].Name
	}
	m.send(ctx, "immediate", notify.Email{To: []string{u.Email}, Subject: subject, HTML: grantListHTML(grants)})
}

// Digest mails each digest-frequency user a summary of unread matches from the last 24h.
func (m *Matcher) Digest(ctx context.Context) (int, error) {
	profiles, err := m.Profiles.ListAlertProfiles(ctx, models.AlertDigest)
	if err != nil {
		return 0, fmt.Errorf("list digest profiles: %w", err)
	}
	since := m.Now().Add(-digestWindow)
	sent := 0
	for _, p := range profiles {
		if !p.EmailEnabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		items, err := m.Notes.ListNotifications(ctx, p.UserID, models.NotificationFilter{
			UnreadOnly: true, Type: models.NotificationGrantMatch, Since: &since,
		})
		if err != nil {
			return sent, fmt.Errorf("list notifications for %s: %w", p.UserID, err)
		}
		if len(items) == 0 {
			continue
		}
		u, err := m.Users.GetUser(ctx, p.UserID)
		if err != nil || u.Email == "" {
			continue
		}
		if m.send(ctx, "digest", notify.Email{
			To:      []string{u.Email},
			Subject: fmt.Sprintf("Resumen diario: %d convocatorias", len(items)),
			HTML:    notificationListHTML(items),
		}) {
			sent++
		}
	}
	log.WithField("sent", sent).Info("[Alerts] Digest finished")
	return sent, nil
}

func (m *Matcher) send(ctx context.Context, kind string, e notify.Email) bool {
	if m.Mail == nil {
		return false
	}
	if err := m.Mail.Send(ctx, e); err != nil {
		metrics.AlertEmails.WithLabelValues(kind, "error").Inc()
		log.WithError(err).WithField("kind", kind).Warn("[Alerts] Email delivery failed")
		return false
	}
	metrics.AlertEmails.WithLabelValues(kind, "ok").Inc()
	return true
}

func grantListHTML(grants []models.Grant) string {
	var b strings.Builder
	b.WriteString("<ul>")
	for i := range grants {
		g := &grants[i]
		b.WriteString("<li><strong>")
		b.WriteString(html.EscapeString(g.Name))
		b.WriteString("</strong><br>")
		b.WriteString(html.EscapeString(matchMessage(g)))
		if g.Links.OfficialURL != "" {
			fmt.Fprintf(&b, `<br><a href="%s">Ver convocatoria</a>`, html.EscapeString(g.Links.OfficialURL))
		}
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	return b.String()
}

func notificationListHTML(items []models.Notification) string {
	var b strings.Builder
	b.WriteString("<ul>")
	for _, n := range items {
		fmt.Fprintf(&b, "<li><strong>%s</strong><br>%s</li>", html.EscapeString(n.Title), html.EscapeString(n.Message))
	}
	b.WriteString("</ul>")
	return b.String()
}
