package memory

import (
	"time"

	"github.com/aliuyar1234/bizdesk/internal/store"
	"github.com/google/uuid"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneInvite(in *store.Invite) *store.Invite {
	out := *in
	out.CodeHash = append([]byte(nil), in.CodeHash...)
	out.UsedAt = cloneTime(in.UsedAt)
	out.UsedBy = cloneID(in.UsedBy)
	return &out
}

func cloneRequest(in *store.AccessRequest) *store.AccessRequest {
	out := *in
	out.RequesterID = cloneID(in.RequesterID)
	out.DecidedBy = cloneID(in.DecidedBy)
	out.DecidedAt = cloneTime(in.DecidedAt)
	out.GrantedAt = cloneTime(in.GrantedAt)
	return &out
}
