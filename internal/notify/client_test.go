package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostAccessRequest(t *testing.T) {
	received := make(chan webhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 1000)
	c.PostAccessRequest(context.Background(), AccessRequestMessage{
		RequestID:      "r1",
		BusinessID:     "b1",
		RequesterName:  "Casey",
		RequesterEmail: "casey@example.com",
		RequestedRole:  "employee",
		Message:        "Starting Monday",
	})

	select {
	case p := <-received:
		require.Contains(t, p.Text, "casey@example.com")
		require.Contains(t, p.Text, "Starting Monday")
	case <-time.After(time.Second):
		t.Fatal("webhook not called")
	}
}

func TestPostAccessRequest_FailuresAreSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20)
	c.PostAccessRequest(context.Background(), AccessRequestMessage{RequestID: "r1"})

	var disabled *Client
	require.False(t, disabled.Enabled())
	disabled.PostAccessRequest(context.Background(), AccessRequestMessage{RequestID: "r2"})
}
