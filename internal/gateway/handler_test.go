package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gateway/internal/auth"
	"github.com/odyssey-erp/odyssey-gateway/internal/identity"
	"github.com/odyssey-erp/odyssey-gateway/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gateway/internal/profile"
	"github.com/odyssey-erp/odyssey-gateway/internal/routes"
	"github.com/odyssey-erp/odyssey-gateway/internal/shared"
	_ "github.com/odyssey-erp/odyssey-gateway/testing"
)

type seenRequest struct {
	uri     string
	host    string
	headers http.Header
}

func TestHandlerForwardsToDownstream(t *testing.T) {
	seen := make(chan seenRequest, 1)
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- seenRequest{uri: r.RequestURI, host: r.Host, headers: r.Header.Clone()}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	defer downstream.Close()

	snapshot, err := routes.NewSnapshot([]routes.Route{{Service: "billing", Type: routes.Protected, SecurityGroup: "tenant-manager", Upstream: downstream.URL}})
	require.NoError(t, err)
	table := routes.NewTable()
	table.Swap(snapshot)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := NewDispatcher(stubVerifier(), &stubLicenses{resolution: viewerResolution()}, table, logger, nil)
	handler := NewHandler(dispatcher, NewForwarder(ForwarderConfig{Logger: logger}), "")

	req := httptest.NewRequest(http.MethodGet, "/billing/v1/invoices?x=1", nil)
	req.Header.Set(auth.HeaderAuthorization, "Bearer viewer")
	req.Header.Set(profile.DefaultHeader, "forged")
	req.Header.Set(auth.HeaderServiceSecret, "leak")
	req.AddCookie(&http.Cookie{Name: auth.DefaultSessionCookie, Value: "sess"})
	req.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	got := <-seen
	assert.Equal(t, "/v1/invoices?x=1", got.uri)
	assert.Equal(t, "billing", got.headers.Get(HeaderForwardedService))
	assert.Empty(t, got.headers.Get(auth.HeaderAuthorization))
	assert.Empty(t, got.headers.Get(auth.HeaderServiceSecret))
	assert.Equal(t, "theme=dark", got.headers.Get("Cookie"))
	assert.NotEmpty(t, got.headers.Get("X-Forwarded-For"))

	ctx, err := profile.Decode(got.headers.Get(profile.DefaultHeader))
	require.NoError(t, err)
	assert.Equal(t, tokens["viewer"], ctx.Principal)
}

func TestHandlerWritesProblemOnReject(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dispatcher := NewDispatcher(stubVerifier(), &stubLicenses{}, newTable(t), logger, nil)
	handler := NewHandler(dispatcher, NewForwarder(ForwarderConfig{Logger: logger}), "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/billing/v1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusUnauthorized, problem.Status)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerUnreachableDownstream(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	upstream := down.URL
	down.Close()

	snapshot, err := routes.NewSnapshot([]routes.Route{{Service: "gone", Type: routes.Public, Upstream: upstream}})
	require.NoError(t, err)
	table := routes.NewTable()
	table.Swap(snapshot)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewHandler(NewDispatcher(stubVerifier(), &stubLicenses{}, table, logger, nil), NewForwarder(ForwarderConfig{Logger: logger}), "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gone/x", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestMiddlewareRequireStaff(t *testing.T) {
	m := Middleware{Verifier: stubVerifier()}
	handler := m.Authenticate(m.RequireStaff(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := shared.PrincipalFromContext(r.Context())
		require.True(t, ok)
		assert.True(t, p.IsStaff)
		w.WriteHeader(http.StatusNoContent)
	})))

	cases := map[string]int{"": http.StatusUnauthorized, "forged": http.StatusUnauthorized, "viewer": http.StatusForbidden, "staff": http.StatusNoContent}
	for token, status := range cases {
		req := httptest.NewRequest(http.MethodPost, "/_gateway/routes/reload", nil)
		if token != "" {
			req.Header.Set(auth.HeaderAuthorization, "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, status, rec.Code, token)
	}

	rec := httptest.NewRecorder()
	m.RequireStaff(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(
		shared.ContextWithPrincipal(context.Background(), identity.Principal{})))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type recordingAuditor struct {
	entries []shared.AuditLog
	err     error
}

func (a *recordingAuditor) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return a.err
}

func TestMiddlewareAuditRecordsMutations(t *testing.T) {
	auditor := &recordingAuditor{}
	m := Middleware{Verifier: stubVerifier(), Auditor: auditor}
	handler := m.Authenticate(m.RequireStaff(m.Audit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))))

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		req := httptest.NewRequest(method, "/_gateway/routes/reload", nil)
		req.Header.Set(auth.HeaderAuthorization, "Bearer staff")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	}

	require.Len(t, auditor.entries, 1)
	entry := auditor.entries[0]
	assert.Equal(t, "POST /_gateway/routes/reload", entry.Action)
	assert.Equal(t, tokens["staff"].ID, entry.ActorID)
	assert.Equal(t, http.StatusAccepted, entry.Meta["status"])
}

func TestMiddlewareAuditFailureKeepsResponse(t *testing.T) {
	m := Middleware{Auditor: &recordingAuditor{err: context.DeadlineExceeded}, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	rec := httptest.NewRecorder()
	m.Audit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/_gateway/auth/session", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
