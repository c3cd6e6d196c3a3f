package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"grndock/infrastructure/audit"
	"grndock/infrastructure/erp"
	"grndock/infrastructure/sqlite"
)

type integrationEnv struct {
	server *httptest.Server
	db     *sqlite.DB
	erp    *erp.Fake
}

func setupIntegrationServer(t *testing.T) *integrationEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "server-integration.db")
	db, err := sqlite.OpenDB(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime caller unavailable")
	}
	migrationsDir := filepath.Join(filepath.Dir(file), "..", "sqlite", "migrations")
	if err := sqlite.ApplyMigrations(context.Background(), db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	f := erp.NewFake()
	f.AddOrder(erp.PurchaseOrder{DocEntry: 101, DocNum: "PO-100", CardCode: "S100", CardName: "Supplier A"})
	f.AddItem(erp.Classification{ItemCode: "ITEM-STD", ItemName: "Bracket", UOM: "EA"})

	s := NewServer("127.0.0.1:0", db, f, nil, audit.NewService())
	ts := httptest.NewServer(s.router)
	env := &integrationEnv{server: ts, db: db, erp: f}
	t.Cleanup(func() {
		env.server.Close()
		_ = env.db.Close()
	})
	return env
}

func doJSON(t *testing.T, env *integrationEnv, method, path string, headers map[string]string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func receiverHeaders() map[string]string {
	return map[string]string{
		"X-Actor-Id":    "1",
		"X-Actor-Name":  "receiver",
		"X-Actor-Role":  "user",
		"X-Actor-Perms": "grpo,multiple_grn",
	}
}

func qcHeaders() map[string]string {
	return map[string]string{
		"X-Actor-Id":    "2",
		"X-Actor-Name":  "inspector",
		"X-Actor-Role":  "qc",
		"X-Actor-Perms": "qc_dashboard",
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupIntegrationServer(t)
	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}

func TestAPIRejectsMissingIdentity(t *testing.T) {
	env := setupIntegrationServer(t)
	resp, body := doJSON(t, env, http.MethodGet, "/api/grpo", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403; body %v", resp.StatusCode, body)
	}
}

func TestGRPOWorkflowOverHTTP(t *testing.T) {
	env := setupIntegrationServer(t)

	resp, body := doJSON(t, env, http.MethodPost, "/api/grpo", receiverHeaders(), map[string]any{"po_number": "PO-100"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %v", resp.StatusCode, body)
	}
	doc, ok := body["document"].(map[string]any)
	if !ok {
		t.Fatalf("missing document in response: %v", body)
	}
	docID := int64(doc["ID"].(float64))

	// A second draft against the same open PO is blocked.
	resp, _ = doJSON(t, env, http.MethodPost, "/api/grpo", receiverHeaders(), map[string]any{"po_number": "PO-100"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create status = %d, want 409", resp.StatusCode)
	}

	resp, body = doJSON(t, env, http.MethodPost, posterURL(docID, "lines"), receiverHeaders(), map[string]any{
		"item_code": "ITEM-STD",
		"item_name": "Bracket",
		"quantity":  "5",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add line status = %d, body %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, env, http.MethodPost, posterURL(docID, "submit"), receiverHeaders(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}

	// QC capability is required to approve.
	resp, _ = doJSON(t, env, http.MethodPost, posterURL(docID, "approve"), receiverHeaders(), map[string]any{"notes": "x"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("approve without QC status = %d, want 403", resp.StatusCode)
	}

	resp, body = doJSON(t, env, http.MethodPost, posterURL(docID, "approve"), qcHeaders(), map[string]any{"notes": "ok"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d, body %v", resp.StatusCode, body)
	}
	if posted, _ := body["posted"].(bool); !posted {
		t.Fatalf("expected posted=true, body %v", body)
	}
	if len(env.erp.PostedDocuments) != 1 {
		t.Fatalf("expected 1 posted receipt, got %d", len(env.erp.PostedDocuments))
	}
}

func TestValidateItemOverHTTP(t *testing.T) {
	env := setupIntegrationServer(t)

	resp, body := doJSON(t, env, http.MethodGet, "/api/grpo/validate-item?item_code=ITEM-STD", receiverHeaders(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate status = %d, body %v", resp.StatusCode, body)
	}
	if body["inventory_type"] != "standard" {
		t.Fatalf("inventory_type = %v, want standard", body["inventory_type"])
	}

	resp, body = doJSON(t, env, http.MethodGet, "/api/grpo/validate-item?item_code=NOPE", receiverHeaders(), nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("unknown item status = %d, want 502; body %v", resp.StatusCode, body)
	}
}

func posterURL(docID int64, action string) string {
	return "/api/grpo/" + itoa(docID) + "/" + action
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
