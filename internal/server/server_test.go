package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"testing"
	"time"

	"quoteline/internal/config"
	"quoteline/internal/db"
	"quoteline/internal/domain"
	"quoteline/internal/engine"
	"quoteline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("quoteline")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	quiet := log.New(io.Discard, "", 0)
	e := engine.New(conn, cfg, quiet)
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	users := []domain.User{
		{ID: "bob", Name: "Bob", Role: "requester", CreatedAt: now},
		{ID: "alice", Name: "Alice", Role: "manager", CreatedAt: now},
	}
	for _, u := range users {
		if err := e.Repo.UpsertUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	if err := e.Repo.UpsertProduct(ctx, domain.Product{ID: "prod-widget", Name: "Widget", CreatedAt: now}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if err := e.Repo.UpsertSupplier(ctx, domain.Supplier{ID: "sup-a", Name: "Supplier A", CreatedAt: now}); err != nil {
		t.Fatalf("seed supplier: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
			Logger:                 quiet,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asBob() map[string]string   { return map[string]string{"X-Actor-Id": "bob"} }
func asAlice() map[string]string { return map[string]string{"X-Actor-Id": "alice"} }

func draftPayload(price string) map[string]any {
	return map[string]any{
		"items": []map[string]any{{
			"product_id": "prod-widget",
			"quantity":   3,
			"bids": []map[string]any{{
				"supplier_id": "sup-a",
				"unit_price":  price,
			}},
		}},
	}
}

func TestQuotationLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/quotations", draftPayload("5.00"), asBob())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created QuotationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal quotation: %v", err)
	}
	if created.Status != "draft" {
		t.Fatalf("expected draft, got %s", created.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/quotations/"+created.ID+"/submit", nil, asBob())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}
	var submitted QuotationResponse
	_ = json.Unmarshal(data, &submitted)
	if submitted.Status != "open" {
		t.Fatalf("expected open, got %s", submitted.Status)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/quotations/"+created.ID+"/approve", nil, asAlice())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	var approved QuotationResponse
	_ = json.Unmarshal(data, &approved)
	if approved.Status != "approved" {
		t.Fatalf("expected approved, got %s", approved.Status)
	}

	// approving again is an invalid transition on a terminal quotation
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/quotations/"+created.ID+"/approve", nil, asAlice())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for terminal quotation, got %d: %s", res.StatusCode, string(data))
	}
	var envelope apiError
	_ = json.Unmarshal(data, &envelope)
	if envelope.Body.Code != "invalid_transition" {
		t.Fatalf("expected invalid_transition code, got %s", envelope.Body.Code)
	}
}

func TestErrorEnvelopes(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// missing credentials
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/quotations", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}

	// unknown quotation
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/quotations/nope", nil, asBob())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}

	// unparseable price
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/quotations", draftPayload("abc"), asBob())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad price, got %d: %s", res.StatusCode, string(data))
	}

	// empty draft cannot be submitted
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/quotations", map[string]any{}, asBob())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create empty draft: %d %s", res.StatusCode, string(data))
	}
	var created QuotationResponse
	_ = json.Unmarshal(data, &created)
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/quotations/"+created.ID+"/submit", nil, asBob())
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 submitting empty draft, got %d: %s", res.StatusCode, string(data))
	}
	var envelope apiError
	_ = json.Unmarshal(data, &envelope)
	if envelope.Body.Code != "validation_failed" {
		t.Fatalf("expected validation_failed code, got %s", envelope.Body.Code)
	}

	// requester cannot approve
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/quotations", draftPayload("2.00"), asBob())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &created)
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/quotations/"+created.ID+"/submit", nil, asBob())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/quotations/"+created.ID+"/approve", nil, asBob())
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for requester approve, got %d: %s", res.StatusCode, string(data))
	}
}

func TestDevLoginIssuesUsableToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id": "bob",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal token: %v", err)
	}
	if login.Token == "" {
		t.Fatalf("expected a token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("whoami status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.ActorID != "bob" || who.Source != "jwt" {
		t.Fatalf("expected bob via jwt, got %+v", who)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"name": "ci",
	}, asBob())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create api key status %d: %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" {
		t.Fatalf("expected the raw key to be returned once on creation")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"X-Api-Key": key.Key,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("whoami via api key status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.ActorID != "bob" || who.Source != "api_key" {
		t.Fatalf("expected bob via api_key, got %+v", who)
	}

	// listing never exposes the raw key again
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/apikeys", nil, asBob())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list api keys status %d: %s", res.StatusCode, string(data))
	}
	var listed []APIKeyResponse
	_ = json.Unmarshal(data, &listed)
	if len(listed) != 1 || listed[0].Key != "" {
		t.Fatalf("expected one key with no raw material, got %+v", listed)
	}
}
