package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"

	"docmind/internal/usertoken"
	"docmind/internal/util"
	"docmind/pkg/ai"
	"docmind/pkg/domain"
	"docmind/pkg/storage"
	"docmind/pkg/store"
	"docmind/services/document/internal/app"
)

type stubExtractor struct {
	text string
	err  error
}

func (s stubExtractor) Extract(context.Context, []byte, string) (string, error) {
	return s.text, s.err
}

type stubModel struct{ reply string }

func (m stubModel) Complete(context.Context, string, []ai.Turn) (string, error) {
	return m.reply, nil
}

type testEnv struct {
	srv     *httptest.Server
	objects *storage.MemoryStore
}

func newTestEnv(t *testing.T, extractor app.TextExtractor, mutate func(*Config)) *testEnv {
	t.Helper()
	objects := storage.NewMemoryStore("")
	core, err := app.New(app.Config{
		Store:     store.NewMemoryStore(),
		Artifacts: storage.NewArtifactStore(objects),
		Extractor: extractor,
		Model:     stubModel{reply: "## Document Type\nInvoice\n\n## Executive Summary\nx\n\n## Key Details\n- y\n\n## Plain-Language Explanation\nz"},
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	cfg := Config{App: core}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, objects: objects}
}

func (e *testEnv) do(t *testing.T, method, path, user string, body []byte, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if user != "" {
		req.Header.Set(userIDHeader, user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) upload(t *testing.T, user, name string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte("fake image bytes"))
	_ = mw.WriteField("language", "eng")
	_ = mw.Close()
	return e.do(t, http.MethodPost, "/documents", user, buf.Bytes(), mw.FormDataContentType())
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s status = %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

func expectCode(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	expectStatus(t, resp, status)
	body := decode[errorResponse](t, resp)
	if body.Code != code {
		t.Fatalf("code = %q, want %q", body.Code, code)
	}
	if body.RequestID == "" {
		t.Fatalf("error response missing request id")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, stubExtractor{text: "x"}, nil)
	resp := env.do(t, http.MethodGet, "/healthz", "", nil, "")
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}
}

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t, stubExtractor{text: "INVOICE TOTAL 120.00"}, nil)

	sync := env.do(t, http.MethodPost, "/users/sync", "u1", []byte(`{"email":"u1@example.com","name":"Una"}`), "application/json")
	expectStatus(t, sync, http.StatusOK)

	up := env.upload(t, "u1", "invoice.png")
	expectStatus(t, up, http.StatusCreated)
	doc := decode[domain.Document](t, up)
	if doc.FileName != "invoice.png" || doc.ExtractedText != "INVOICE TOTAL 120.00" {
		t.Fatalf("doc = %+v", doc)
	}
	if !strings.Contains(doc.Summary, "Plain-Language Explanation") {
		t.Fatalf("summary = %q", doc.Summary)
	}

	list := decode[struct {
		Items []domain.Document `json:"items"`
		Count int               `json:"count"`
	}](t, env.do(t, http.MethodGet, "/documents", "u1", nil, ""))
	if list.Count != 1 || list.Items[0].ID != doc.ID {
		t.Fatalf("list = %+v", list)
	}

	msg := env.do(t, http.MethodPost, "/documents/"+doc.ID+"/messages", "u1", []byte(`{"content":"What is the total?"}`), "application/json")
	expectStatus(t, msg, http.StatusCreated)
	turn := decode[app.ChatTurn](t, msg)
	if turn.UserMessage.Content != "What is the total?" || turn.AssistantMessage == nil {
		t.Fatalf("turn = %+v", turn)
	}

	got := decode[domain.Document](t, env.do(t, http.MethodGet, "/documents/"+doc.ID, "u1", nil, ""))
	if len(got.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(got.Messages))
	}

	renamed := env.do(t, http.MethodPatch, "/documents/"+doc.ID, "u1", []byte(`{"name":"March invoice"}`), "application/json")
	expectStatus(t, renamed, http.StatusOK)
	if d := decode[domain.Document](t, renamed); d.DisplayName != "March invoice" {
		t.Fatalf("display name = %q", d.DisplayName)
	}

	dl := decode[map[string]string](t, env.do(t, http.MethodGet, "/documents/"+doc.ID+"/download", "u1", nil, ""))
	if dl["filename"] != "invoice.png" || !strings.Contains(dl["url"], "expires=") {
		t.Fatalf("download = %v", dl)
	}

	expectStatus(t, env.do(t, http.MethodDelete, "/documents/"+doc.ID, "u1", nil, ""), http.StatusOK)
	expectCode(t, env.do(t, http.MethodGet, "/documents/"+doc.ID, "u1", nil, ""), http.StatusNotFound, "DOCUMENT_NOT_FOUND")
	if env.objects.Len() != 0 {
		t.Fatalf("stored objects = %d, want 0", env.objects.Len())
	}
}

func TestUploadForUnknownUser(t *testing.T) {
	env := newTestEnv(t, stubExtractor{text: "x"}, nil)
	expectCode(t, env.upload(t, "u2", "invoice.png"), http.StatusNotFound, "USER_NOT_FOUND")
	if env.objects.Len() != 0 {
		t.Fatalf("stored objects = %d, want 0", env.objects.Len())
	}
}

func TestUploadExtractionFailure(t *testing.T) {
	env := newTestEnv(t, stubExtractor{err: domain.ErrExtraction}, nil)
	env.do(t, http.MethodPost, "/users/sync", "u1", []byte(`{}`), "application/json")
	expectCode(t, env.upload(t, "u1", "blank.png"), http.StatusUnprocessableEntity, "DOCUMENT_EXTRACTION_FAILED")
}

func TestUploadRequiresFile(t *testing.T) {
	env := newTestEnv(t, stubExtractor{text: "x"}, nil)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("language", "eng")
	_ = mw.Close()
	resp := env.do(t, http.MethodPost, "/documents", "u1", buf.Bytes(), mw.FormDataContentType())
	expectCode(t, resp, http.StatusBadRequest, "DOCUMENT_INVALID_UPLOAD_FORM")
}

func TestForeignDocumentIsForbidden(t *testing.T) {
	env := newTestEnv(t, stubExtractor{text: "x"}, nil)
	env.do(t, http.MethodPost, "/users/sync", "u1", []byte(`{}`), "application/json")
	doc := decode[domain.Document](t, env.upload(t, "u1", "a.png"))
	expectCode(t, env.do(t, http.MethodGet, "/documents/"+doc.ID, "u3", nil, ""), http.StatusForbidden, "DOCUMENT_FORBIDDEN")
	expectCode(t, env.do(t, http.MethodDelete, "/documents/"+doc.ID, "u3", nil, ""), http.StatusForbidden, "DOCUMENT_FORBIDDEN")
}

func TestInvalidMessageRole(t *testing.T) {
	env := newTestEnv(t, stubExtractor{text: "x"}, nil)
	env.do(t, http.MethodPost, "/users/sync", "u1", []byte(`{}`), "application/json")
	doc := decode[domain.Document](t, env.upload(t, "u1", "a.png"))
	resp := env.do(t, http.MethodPost, "/documents/"+doc.ID+"/messages", "u1", []byte(`{"content":"hi","role":"system"}`), "application/json")
	expectCode(t, resp, http.StatusBadRequest, "DOCUMENT_INVALID_REQUEST")
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, stubExtractor{text: "x"}, nil)
	expectCode(t, env.do(t, http.MethodGet, "/documents", "", nil, ""), http.StatusUnauthorized, "AUTH_INVALID_TOKEN")
}

func TestUploadRateLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	env := newTestEnv(t, stubExtractor{text: "x"}, func(cfg *Config) {
		cfg.RedisAddr = redis.Addr()
		cfg.UploadRateLimitPerMinute = 1
	})
	env.do(t, http.MethodPost, "/users/sync", "u1", []byte(`{}`), "application/json")
	expectStatus(t, env.upload(t, "u1", "a.png"), http.StatusCreated)
	second := env.upload(t, "u1", "b.png")
	if second.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
	expectCode(t, second, http.StatusTooManyRequests, "SYSTEM_RATE_LIMITED")

	// quotas are per user
	env.do(t, http.MethodPost, "/users/sync", "u4", []byte(`{}`), "application/json")
	expectStatus(t, env.upload(t, "u4", "c.png"), http.StatusCreated)
}

func TestBearerTokenIdentity(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer jwks.Close()
	verifier, err := usertoken.NewVerifier(usertoken.Config{JWKSURL: jwks.URL})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	env := newTestEnv(t, stubExtractor{text: "x"}, func(cfg *Config) { cfg.TokenVerifier = verifier })

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   "u1",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/users/sync", strings.NewReader(`{"email":"u1@example.com"}`))
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	if user := decode[domain.User](t, resp); user.ID != "u1" {
		t.Fatalf("user id = %q, want u1", user.ID)
	}

	// the header fallback is ignored once a verifier is configured
	expectCode(t, env.do(t, http.MethodGet, "/documents", "u1", nil, ""), http.StatusUnauthorized, "AUTH_INVALID_TOKEN")
}

func TestExportAnalysis(t *testing.T) {
	env := newTestEnv(t, stubExtractor{text: "INVOICE TOTAL 120.00"}, nil)
	env.do(t, http.MethodPost, "/users/sync", "u1", []byte(`{}`), "application/json")
	doc := decode[domain.Document](t, env.upload(t, "u1", "invoice.png"))
	env.do(t, http.MethodPost, "/documents/"+doc.ID+"/messages", "u1", []byte(`{"content":"What is the total?"}`), "application/json")

	resp := env.do(t, http.MethodGet, "/documents/"+doc.ID+"/export", "u1", nil, "")
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	disposition, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	if err != nil || disposition != "attachment" || params["filename"] != "invoice_analysis.txt" {
		t.Fatalf("content disposition = %q (%v)", resp.Header.Get("Content-Disposition"), err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)
	extracted := strings.Index(text, "--- Extracted Text ---\nINVOICE TOTAL 120.00")
	summary := strings.Index(text, "Assistant: ## Document Type")
	question := strings.Index(text, "User: What is the total?")
	if extracted < 0 || summary < extracted || question < summary {
		t.Fatalf("export out of order:\n%s", text)
	}

	expectCode(t, env.do(t, http.MethodGet, "/documents/"+doc.ID+"/export", "u3", nil, ""), http.StatusForbidden, "DOCUMENT_FORBIDDEN")
}

func TestHeaderIdentityRequiresTrustedPeer(t *testing.T) {
	gatewayOnly, err := util.NewTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("NewTrustedProxies: %v", err)
	}
	env := newTestEnv(t, stubExtractor{text: "x"}, func(cfg *Config) { cfg.TrustedProxies = gatewayOnly })
	expectCode(t, env.do(t, http.MethodPost, "/users/sync", "u1", []byte(`{}`), "application/json"), http.StatusUnauthorized, "AUTH_INVALID_TOKEN")

	loopback, err := util.NewTrustedProxies([]string{"127.0.0.1", "::1"})
	if err != nil {
		t.Fatalf("NewTrustedProxies: %v", err)
	}
	env = newTestEnv(t, stubExtractor{text: "x"}, func(cfg *Config) { cfg.TrustedProxies = loopback })
	expectStatus(t, env.do(t, http.MethodPost, "/users/sync", "u1", []byte(`{}`), "application/json"), http.StatusOK)
}

func TestCanceledRequestIsNotExtractionFailure(t *testing.T) {
	for _, cause := range []error{context.Canceled, context.DeadlineExceeded} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/documents", nil)
		writeAppError(rec, req, &app.IngestError{Stage: app.StateValidated, Err: fmt.Errorf("wait for ocr slot: %w", cause)})
		if rec.Code != http.StatusRequestTimeout {
			t.Fatalf("%v: status = %d, want %d", cause, rec.Code, http.StatusRequestTimeout)
		}
		var body errorResponse
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Code != "SYSTEM_REQUEST_CANCELED" {
			t.Fatalf("%v: body = %+v (%v)", cause, body, err)
		}
	}
}
