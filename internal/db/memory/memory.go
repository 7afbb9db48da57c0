// Package memory is an in-process store with the same behaviour as the Postgres store.
// It backs tests and DATABASE_URL=memory:// local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
	"github.com/david/grant-tracker/internal/search"
)

type favoriteKey struct {
	user, grant uuid.UUID
}

type Store struct {
	mu            sync.Mutex
	users         map[uuid.UUID]models.User
	projects      map[uuid.UUID]models.Project
	grants        map[uuid.UUID]models.Grant
	syncConfigs   map[uuid.UUID]models.SyncConfig
	syncRuns      []models.SyncRun
	alertProfiles map[uuid.UUID]models.AlertProfile
	favorites     map[favoriteKey]models.Favorite
	applications  map[uuid.UUID]models.Application
	notifications []models.Notification
	now           func() time.Time
}

func New() *Store {
	return &Store{
		users:         map[uuid.UUID]models.User{},
		projects:      map[uuid.UUID]models.Project{},
		grants:        map[uuid.UUID]models.Grant{},
		syncConfigs:   map[uuid.UUID]models.SyncConfig{},
		alertProfiles: map[uuid.UUID]models.AlertProfile{},
		favorites:     map[favoriteKey]models.Favorite{},
		applications:  map[uuid.UUID]models.Application{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PutUser registers a user as the subscription collaborator would.
func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) PutProject(p models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("user", id)
	}
	return &u, nil
}

func (s *Store) GetProject(_ context.Context, id uuid.UUID) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, apperr.NotFound("project", id)
	}
	return &p, nil
}

// Grants

func (s *Store) prepareGrant(g *models.Grant) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.Status == "" {
		g.Status = models.GrantActive
	}
	if g.Source == "" {
		g.Source = models.SourceManual
	}
	if len(g.Classification.HeritageTypes) == 0 {
		g.Classification.HeritageTypes = []string{models.HeritageGeneral}
	}
	now := s.now()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
}

func (s *Store) sortedGrants(match func(*models.Grant) bool) []models.Grant {
	out := []models.Grant{}
	for _, g := range s.grants {
		g := g
		if match(&g) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return search.Less(&out[i], &out[j]) })
	return out
}

func (s *Store) SearchGrants(_ context.Context, q search.Query) (search.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.sortedGrants(q.Matches)
	start := q.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + q.Limit()
	if end > len(all) {
		end = len(all)
	}
	return search.Result{
		Grants:     append([]models.Grant{}, all[start:end]...),
		Pagination: search.NewPagination(q, len(all)),
	}, nil
}

func (s *Store) GetGrant(_ context.Context, id uuid.UUID) (*models.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, apperr.NotFound("grant", id)
	}
	return &g, nil
}

func (s *Store) ListActiveGrants(_ context.Context) ([]models.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedGrants(func(g *models.Grant) bool { return g.Status == models.GrantActive }), nil
}

func (s *Store) CountGrants(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grants), nil
}

func (s *Store) CreateGrant(_ context.Context, g *models.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepareGrant(g)
	if _, ok := s.grants[g.ID]; ok {
		return apperr.Conflict("grant %s already exists", g.ID)
	}
	if g.ExternalID != "" && s.findByExternalID(g.ExternalID) {
		return apperr.Conflict("grant with external id %s already exists", g.ExternalID)
	}
	s.grants[g.ID] = *g
	return nil
}

func (s *Store) findByExternalID(ext string) bool {
	for _, existing := range s.grants {
		if existing.ExternalID == ext {
			return true
		}
	}
	return false
}

// InsertGrantIfAbsent checks and inserts under one lock.
func (s *Store) InsertGrantIfAbsent(_ context.Context, g *models.Grant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.grants {
		if strings.EqualFold(existing.Name, g.Name) {
			return false, nil
		}
		if g.ExternalID != "" && (existing.ExternalID == g.ExternalID || strings.Contains(existing.Links.OfficialURL, g.ExternalID)) {
			return false, nil
		}
	}
	s.prepareGrant(g)
	s.grants[g.ID] = *g
	return true, nil
}

func (s *Store) DeleteGrant(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[id]; !ok {
		return apperr.NotFound("grant", id)
	}
	for k := range s.favorites {
		if k.grant == id {
			return apperr.Conflict("grant %s is referenced by favorites or applications", id)
		}
	}
	for _, a := range s.applications {
		if a.GrantID == id {
			return apperr.Conflict("grant %s is referenced by favorites or applications", id)
		}
	}
	for i := range s.notifications {
		if n := &s.notifications[i]; n.GrantID != nil && *n.GrantID == id {
			n.GrantID = nil
		}
	}
	delete(s.grants, id)
	return nil
}
