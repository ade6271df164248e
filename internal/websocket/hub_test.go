package websocket

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/models"
)

type stubAuth struct {
	p   models.Principal
	err error
}

func (s stubAuth) ParsePrincipal(string) (models.Principal, error) { return s.p, s.err }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestChannels(t *testing.T) {
	org := uuid.New()
	user := uuid.New()

	tests := []struct {
		name string
		p    models.Principal
		want []string
	}{
		{"student", models.Principal{UserID: user, Role: models.RoleStudent}, []string{"user_updates:" + user.String()}},
		{"org admin", models.Principal{UserID: user, Role: models.RoleOrgAdmin, OrganizationID: &org}, []string{"user_updates:" + user.String(), "org_alerts:" + org.String()}},
		{"admin", models.Principal{UserID: user, Role: models.RoleAdmin}, []string{"user_updates:" + user.String(), "alerts:all"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Channels(tc.p)
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHandleWebSocket_RejectsBadToken(t *testing.T) {
	hub := NewHub(nil, stubAuth{err: errors.New("bad")}, quietLogger())

	rr := httptest.NewRecorder()
	hub.HandleWebSocket(rr, httptest.NewRequest(http.MethodGet, "/ws?token=x", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	hub.HandleWebSocket(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestHub_BroadcastReachesUserSockets(t *testing.T) {
	user := uuid.New()
	hub := NewHub(nil, stubAuth{p: models.Principal{UserID: user}}, quietLogger())
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?token=ok", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.RLock()
		n := len(hub.connections[user])
		hub.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("connection never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// same path the redis subscription feeds
	hub.broadcast(user, []byte(`{"type":"progress_updated"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "progress_updated") {
		t.Fatalf("unexpected message: %s", data)
	}
}
