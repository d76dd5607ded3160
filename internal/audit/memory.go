package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps audit entries in process memory. Business-scoped entries are
// attributed to an organization through the OrgOf lookup when set.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []ListItem

	// OrgOf maps a business id to its organization.
	OrgOf func(businessID uuid.UUID) (uuid.UUID, bool)
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(ctx context.Context, params LogParams) error {
	meta := make(map[string]any, len(params.Meta))
	for k, v := range params.Meta {
		meta[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, ListItem{
		ID:         uuid.New(),
		Action:     params.Action,
		OrgID:      params.OrgID,
		BusinessID: params.BusinessID,
		ActorID:    params.ActorID,
		Meta:       meta,
		CreatedAt:  time.Now().UTC(),
	})
	return nil
}

func (s *MemoryStore) ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]ListItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ListItem
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if s.belongs(e, orgID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) belongs(e ListItem, orgID uuid.UUID) bool {
	if e.OrgID != nil && *e.OrgID == orgID {
		return true
	}
	if e.BusinessID == nil || s.OrgOf == nil {
		return false
	}
	org, ok := s.OrgOf(*e.BusinessID)
	return ok && org == orgID
}

// Actions returns the recorded actions in insertion order.
func (s *MemoryStore) Actions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}
