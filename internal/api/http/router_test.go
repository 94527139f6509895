package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/store"
)

type envelope[T any] struct {
	Data T `json:"data"`
}

func newDeskApp(t *testing.T) *fiber.App {
	t.Helper()
	s := store.New(store.Dependencies{SeedPasswordCost: bcrypt.MinCost})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Close)

	tokens := auth.NewTokenManager("test-secret", 60)
	logger := zap.NewNop()
	metrics := observability.NewMetrics("helpdesk")
	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, 0)
	RegisterDeskRoutes(app, DeskRouteConfig{
		Desk:           handlers.NewDeskHandler(s, auth.NewLocalAuthenticator(s, tokens), logger),
		Health:         handlers.NewHealthHandler("helpdesk", "test", nil, nil),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, s),
		Metrics:        metrics,
	})
	return app
}

func call(t *testing.T, app *fiber.App, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var out envelope[T]
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return out.Data
}

func login(t *testing.T, app *fiber.App, email, password string) string {
	t.Helper()
	resp, raw := call(t, app, http.MethodPost, "/session/login", "", dto.UserLoginRequest{Email: email, Password: password})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d %s", email, resp.StatusCode, raw)
	}
	return decode[dto.AuthResponse](t, raw).Token
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var body dto.ErrorEnvelope
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode error %s: %v", raw, err)
	}
	return body.Error.Code
}

func TestDeskRequiresAuthentication(t *testing.T) {
	app := newDeskApp(t)
	resp, raw := call(t, app, http.MethodGet, "/snapshot", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || errorCode(t, raw) != "UNAUTHORIZED" {
		t.Fatalf("expected 401 UNAUTHORIZED, got %d %s", resp.StatusCode, raw)
	}
	resp, raw = call(t, app, http.MethodPost, "/session/login", "", dto.UserLoginRequest{Email: "cliente1@empresa.com", Password: "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d %s", resp.StatusCode, raw)
	}
}

func TestDeskTicketFlow(t *testing.T) {
	app := newDeskApp(t)
	requester := login(t, app, "cliente1@empresa.com", "cliente")
	technician := login(t, app, "tecnico1@helpdesk.com", "tecnico")

	resp, raw := call(t, app, http.MethodGet, "/snapshot", requester, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot: %d %s", resp.StatusCode, raw)
	}
	snap := decode[dto.SnapshotResponse](t, raw)
	for _, ticket := range snap.Tickets {
		if ticket.RequesterID != "4" {
			t.Fatalf("requester saw ticket %s of %s", ticket.ID, ticket.RequesterID)
		}
	}
	if snap.Metrics.Total != len(snap.Tickets) || snap.Connectivity.Mode != "LOCAL_FALLBACK" {
		t.Fatalf("unexpected snapshot header: %+v %+v", snap.Metrics, snap.Connectivity)
	}

	resp, raw = call(t, app, http.MethodPost, "/tickets", requester, dto.CreateTicketRequest{Title: "Printer jam", Category: "Hardware"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.StatusCode, raw)
	}
	created := decode[dto.MutationResponse](t, raw)
	if created.Ticket == nil || created.Ticket.Status != "OPEN" || created.Ticket.Priority != "MEDIUM" {
		t.Fatalf("unexpected created ticket: %+v", created.Ticket)
	}
	id := created.Ticket.ID

	resp, raw = call(t, app, http.MethodPost, "/tickets/"+id+"/claim", requester, nil)
	if resp.StatusCode != http.StatusForbidden || errorCode(t, raw) != "FORBIDDEN" {
		t.Fatalf("requester claim: expected 403 FORBIDDEN, got %d %s", resp.StatusCode, raw)
	}

	resp, raw = call(t, app, http.MethodPost, "/tickets/"+id+"/claim", technician, dto.ClaimRequest{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim: %d %s", resp.StatusCode, raw)
	}
	claimed := decode[dto.MutationResponse](t, raw)
	if claimed.Ticket.Status != "IN_PROGRESS" || claimed.Ticket.AssignedTechnicianID == nil || *claimed.Ticket.AssignedTechnicianID != "2" {
		t.Fatalf("unexpected claimed ticket: %+v", claimed.Ticket)
	}

	resp, raw = call(t, app, http.MethodPost, "/tickets/"+id+"/advance", technician, map[string]string{"status": "RESOLVED"})
	if resp.StatusCode != http.StatusConflict || errorCode(t, raw) != "INVALID_TRANSITION" {
		t.Fatalf("resolve without solution: expected 409 INVALID_TRANSITION, got %d %s", resp.StatusCode, raw)
	}

	resp, raw = call(t, app, http.MethodPost, "/tickets/"+id+"/messages", technician, dto.CreateMessageRequest{Body: "checking the tray", Kind: "NOTE"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("note: %d %s", resp.StatusCode, raw)
	}
	resp, raw = call(t, app, http.MethodGet, "/tickets/"+id+"/messages", requester, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("messages: %d %s", resp.StatusCode, raw)
	}
	if msgs := decode[[]dto.MessageResponse](t, raw); len(msgs) != 0 {
		t.Fatalf("requester must not read internal notes: %+v", msgs)
	}

	resp, raw = call(t, app, http.MethodGet, "/tickets?status=IN_PROGRESS", technician, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", resp.StatusCode, raw)
	}
	found := false
	for _, ticket := range decode[[]dto.TicketResponse](t, raw) {
		if ticket.Status != "IN_PROGRESS" {
			t.Fatalf("filter leaked status %s", ticket.Status)
		}
		found = found || ticket.ID == id
	}
	if !found {
		t.Fatalf("claimed ticket missing from technician queue")
	}
}

func TestDeskUserAdministration(t *testing.T) {
	app := newDeskApp(t)
	admin := login(t, app, "admin@helpdesk.com", "admin")
	requester := login(t, app, "cliente1@empresa.com", "cliente")

	newTech := dto.UserRegisterRequest{Name: "Rita", Email: "rita@helpdesk.com", Password: "segredo", Role: "TECHNICIAN"}
	resp, raw := call(t, app, http.MethodPost, "/users", requester, newTech)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("requester create user: expected 403, got %d %s", resp.StatusCode, raw)
	}
	resp, raw = call(t, app, http.MethodPost, "/users", admin, newTech)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin create user: %d %s", resp.StatusCode, raw)
	}
	created := decode[dto.UserResponse](t, raw)
	if created.Role != "TECHNICIAN" {
		t.Fatalf("unexpected role %s", created.Role)
	}

	inactive := false
	resp, raw = call(t, app, http.MethodPatch, "/users/"+created.ID, admin, dto.UserUpdateRequest{Active: &inactive})
	if resp.StatusCode != http.StatusOK || decode[dto.UserResponse](t, raw).Active {
		t.Fatalf("deactivate: %d %s", resp.StatusCode, raw)
	}
	resp, _ = call(t, app, http.MethodPost, "/session/login", "", dto.UserLoginRequest{Email: "rita@helpdesk.com", Password: "segredo"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("inactive user must not log in, got %d", resp.StatusCode)
	}

	resp, raw = call(t, app, http.MethodPost, "/session/register", "", dto.UserRegisterRequest{Name: "Bia", Email: "bia@empresa.com", Password: "segredo", Role: "ADMINISTRATOR"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("self registration: %d %s", resp.StatusCode, raw)
	}
	if role := decode[dto.UserResponse](t, raw).Role; role != "REQUESTER" {
		t.Fatalf("self registration must create a requester, got %s", role)
	}
}

func TestDeskConnectivityAndMetrics(t *testing.T) {
	app := newDeskApp(t)
	resp, raw := call(t, app, http.MethodPost, "/connectivity/recheck", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recheck: %d %s", resp.StatusCode, raw)
	}
	if state := decode[dto.ConnectivityResponse](t, raw); state.Mode != "LOCAL_FALLBACK" || state.LastError == "" {
		t.Fatalf("unexpected connectivity: %+v", state)
	}

	call(t, app, http.MethodGet, "/snapshot", "", nil)
	resp, raw = call(t, app, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK || !bytes.Contains(raw, []byte(`helpdesk_http_errors_total{code="UNAUTHORIZED"`)) {
		t.Fatalf("metrics missing error counter: %d %s", resp.StatusCode, raw)
	}
}
