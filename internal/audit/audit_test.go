package audit

import (
	"context"
	"testing"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestWriter_ListByOrgIncludesBusinessEntries(t *testing.T) {
	ctx := context.Background()
	orgID, otherOrg := uuid.New(), uuid.New()
	bizID := uuid.New()

	s := NewMemoryStore()
	s.OrgOf = func(businessID uuid.UUID) (uuid.UUID, bool) {
		if businessID == bizID {
			return orgID, true
		}
		return uuid.Nil, false
	}
	w := NewWriter(s)

	require.NoError(t, w.LogOrgCreated(ctx, &store.Organization{ID: orgID, OwnerID: uuid.New(), Name: "O"}))
	require.NoError(t, w.LogOrgCreated(ctx, &store.Organization{ID: otherOrg, OwnerID: uuid.New(), Name: "P"}))
	require.NoError(t, w.LogAccessRequestSubmitted(ctx, &store.AccessRequest{
		ID:             uuid.New(),
		BusinessID:     bizID,
		RequesterEmail: "r@example.com",
		RequestedRole:  store.RoleEmployee,
	}))

	items, err := w.ListByOrg(ctx, orgID, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	// Newest first.
	require.Equal(t, EventAccessRequestSubmitted, items[0].Action)
	require.Equal(t, EventOrgCreated, items[1].Action)
}

func TestWriter_DecidedWithoutOrganization(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	w := NewWriter(s)
	granted := time.Now()

	req := &store.AccessRequest{
		ID:         uuid.New(),
		BusinessID: uuid.New(),
		Status:     store.AccessRequestApproved,
		GrantedAt:  &granted,
	}
	require.NoError(t, w.LogAccessRequestDecided(ctx, nil, req, uuid.New()))

	require.Equal(t, []string{EventAccessRequestApproved}, s.Actions())
	require.Nil(t, s.entries[0].OrgID)
	require.Equal(t, true, s.entries[0].Meta["granted"])

	req.Status = store.AccessRequestRejected
	req.GrantedAt = nil
	orgID := uuid.New()
	require.NoError(t, w.LogAccessRequestDecided(ctx, &orgID, req, uuid.New()))
	require.Equal(t, []string{EventAccessRequestApproved, EventAccessRequestRejected}, s.Actions())
}

func TestWriter_NilDiscards(t *testing.T) {
	var w *Writer
	require.NoError(t, w.LogOrgCreated(context.Background(), &store.Organization{ID: uuid.New()}))

	items, err := w.ListByOrg(context.Background(), uuid.New(), 10)
	require.NoError(t, err)
	require.Empty(t, items)
}
