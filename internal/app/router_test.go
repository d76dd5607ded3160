package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aliuyar1234/bizdesk/internal/config"
	"github.com/aliuyar1234/bizdesk/internal/identity"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-identity-secret-with-32-bytes!!"

type envelope struct {
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type harness struct {
	t      *testing.T
	app    *App
	issuer *identity.Verifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		Env:                  "dev",
		HTTPAddr:             ":0",
		BaseURL:              "http://localhost:3000",
		Store:                config.StoreMemory,
		StoreTimeout:         time.Second,
		IdentitySecret:       testSecret,
		LogLevel:             "error",
		CacheTTL:             time.Minute,
		NotifyTimeoutMS:      100,
		RedeemRateLimitRPM:   100,
		RetentionInviteDays:  30,
		RetentionRequestDays: 90,
	}
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return &harness{t: t, app: a, issuer: identity.NewVerifier(testSecret, "")}
}

func (h *harness) newIdentity(email string) *identity.Identity {
	return &identity.Identity{ID: uuid.New(), Email: email, Name: email}
}

func (h *harness) do(id *identity.Identity, method, path string, body any) (int, envelope) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if id != nil {
		token, err := h.issuer.Issue(*id, time.Hour)
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.app.Router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NotEmpty(h.t, env.RequestID+rec.Header().Get("X-Request-ID"))
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

type idOnly struct {
	ID uuid.UUID `json:"id"`
}

type membershipData struct {
	Membership struct {
		Organizations []struct {
			Organization idOnly `json:"organization"`
			Role         string `json:"role"`
		} `json:"organizations"`
		Businesses []struct {
			Business idOnly `json:"business"`
			Role     string `json:"role"`
		} `json:"businesses"`
	} `json:"membership"`
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(nil, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, code)

	code, env := h.do(nil, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"ready","store":"ok"}`, string(env.Data))
}

func TestUnknownRouteIsJSONNotFound(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(nil, http.MethodGet, "/no/such/route", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, env.Error)
	require.Equal(t, "not_found", env.Error.Code)
}

func TestAPIRequiresIdentity(t *testing.T) {
	h := newHarness(t)

	code, env := h.do(nil, http.MethodGet, "/api/v1/me/memberships", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "not_authenticated", env.Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/memberships", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	h.app.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMembershipFlow(t *testing.T) {
	h := newHarness(t)
	owner := h.newIdentity("owner@example.com")
	invitee := h.newIdentity("invitee@example.com")
	requester := h.newIdentity("requester@example.com")

	for _, id := range []*identity.Identity{owner, invitee, requester} {
		code, _ := h.do(id, http.MethodPost, "/api/v1/session/sign-in", nil)
		require.Equal(t, http.StatusOK, code)
	}

	// Organization onboarding.
	code, env := h.do(owner, http.MethodPost, "/api/v1/orgs", map[string]string{"name": "Acme"})
	require.Equal(t, http.StatusCreated, code)
	org := decode[struct {
		Org idOnly `json:"org"`
	}](t, env.Data).Org

	// Invite lifecycle.
	code, env = h.do(owner, http.MethodPost, "/api/v1/orgs/"+org.ID.String()+"/invites",
		map[string]string{"email": invitee.Email, "role": "admin"})
	require.Equal(t, http.StatusCreated, code)
	invite := decode[struct {
		Invite struct {
			Code string `json:"code"`
		} `json:"invite"`
	}](t, env.Data).Invite
	require.NotEmpty(t, invite.Code)

	code, _ = h.do(invitee, http.MethodPost, "/api/v1/invites/redeem", map[string]string{"code": invite.Code})
	require.Equal(t, http.StatusOK, code)

	code, env = h.do(requester, http.MethodPost, "/api/v1/invites/redeem", map[string]string{"code": invite.Code})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "already_used", env.Error.Code)

	code, env = h.do(invitee, http.MethodGet, "/api/v1/me/memberships", nil)
	require.Equal(t, http.StatusOK, code)
	m := decode[membershipData](t, env.Data).Membership
	require.Len(t, m.Organizations, 1)
	require.Equal(t, org.ID, m.Organizations[0].Organization.ID)
	require.Equal(t, "admin", m.Organizations[0].Role)

	// Business creation by the invited admin.
	code, env = h.do(invitee, http.MethodPost, "/api/v1/orgs/"+org.ID.String()+"/businesses",
		map[string]string{"name": "Shop", "type": "retail"})
	require.Equal(t, http.StatusCreated, code)
	biz := decode[struct {
		Business idOnly `json:"business"`
	}](t, env.Data).Business

	// Access request workflow.
	requestsPath := "/api/v1/businesses/" + biz.ID.String() + "/access-requests"
	code, env = h.do(requester, http.MethodPost, requestsPath, map[string]string{"message": "let me in"})
	require.Equal(t, http.StatusCreated, code)
	ar := decode[struct {
		AccessRequest idOnly `json:"access_request"`
	}](t, env.Data).AccessRequest

	code, env = h.do(requester, http.MethodPost, requestsPath, map[string]string{"message": "again"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "conflict", env.Error.Code)

	code, _ = h.do(requester, http.MethodPost, "/api/v1/access-requests/"+ar.ID.String()+"/decision",
		map[string]string{"decision": "approve"})
	require.Equal(t, http.StatusForbidden, code)

	code, env = h.do(invitee, http.MethodGet, requestsPath+"?status=pending", nil)
	require.Equal(t, http.StatusOK, code)
	pending := decode[struct {
		AccessRequests []idOnly `json:"access_requests"`
	}](t, env.Data).AccessRequests
	require.Len(t, pending, 1)

	code, env = h.do(invitee, http.MethodPost, "/api/v1/access-requests/"+ar.ID.String()+"/decision",
		map[string]string{"decision": "approve"})
	require.Equal(t, http.StatusOK, code)
	require.False(t, decode[struct {
		Deferred bool `json:"deferred"`
	}](t, env.Data).Deferred)

	code, env = h.do(invitee, http.MethodPost, "/api/v1/access-requests/"+ar.ID.String()+"/decision",
		map[string]string{"decision": "reject"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "already_decided", env.Error.Code)

	code, env = h.do(requester, http.MethodGet, "/api/v1/me/memberships", nil)
	require.Equal(t, http.StatusOK, code)
	m = decode[membershipData](t, env.Data).Membership
	require.Len(t, m.Businesses, 1)
	require.Equal(t, biz.ID, m.Businesses[0].Business.ID)
	require.Equal(t, "employee", m.Businesses[0].Role)

	// Audit trail is for organization managers.
	code, env = h.do(owner, http.MethodGet, "/api/v1/orgs/"+org.ID.String()+"/audit", nil)
	require.Equal(t, http.StatusOK, code)
	events := decode[struct {
		Events []struct {
			Action string `json:"action"`
		} `json:"events"`
	}](t, env.Data).Events
	require.NotEmpty(t, events)

	code, _ = h.do(requester, http.MethodGet, "/api/v1/orgs/"+org.ID.String()+"/audit", nil)
	require.Contains(t, []int{http.StatusForbidden, http.StatusNotFound}, code)
}

func TestSignOut(t *testing.T) {
	h := newHarness(t)
	id := h.newIdentity("someone@example.com")

	code, env := h.do(id, http.MethodPost, "/api/v1/session/sign-out", nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"signed_out":true}`, string(env.Data))
}

func TestRedeemRateLimit(t *testing.T) {
	h := newHarness(t)
	h.app.Router = NewRouter(&config.Config{BaseURL: "http://localhost:3000", RedeemRateLimitRPM: 2}, h.app.Port, h.app.Services)
	id := h.newIdentity("x@example.com")

	for range 2 {
		code, _ := h.do(id, http.MethodPost, "/api/v1/invites/redeem", map[string]string{"code": "nope"})
		require.Equal(t, http.StatusNotFound, code)
	}
	code, env := h.do(id, http.MethodPost, "/api/v1/invites/redeem", map[string]string{"code": "nope"})
	require.Equal(t, http.StatusTooManyRequests, code)
	require.Equal(t, "too_many_requests", env.Error.Code)
}
