package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-gateway/internal/auth"
	"github.com/odyssey-erp/odyssey-gateway/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-gateway/internal/profile"
)

// HeaderForwardedService names the matched service on forwarded requests.
const HeaderForwardedService = "X-Forwarded-Service"

// HeaderRequestID carries the gateway request id downstream.
const HeaderRequestID = "X-Request-Id"

type forwardKey struct{}

// Forwarder proxies forwarded decisions to their downstream.
type Forwarder struct {
	proxy         *httputil.ReverseProxy
	profileHeader string
	sessionCookie string
	logger        *slog.Logger
}

// ForwarderConfig configures a Forwarder.
type ForwarderConfig struct {
	ProfileHeader string
	SessionCookie string
	Transport     http.RoundTripper
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// NewForwarder constructs a Forwarder.
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	f := &Forwarder{
		profileHeader: cfg.ProfileHeader,
		sessionCookie: cfg.SessionCookie,
		logger:        cfg.Logger,
	}
	if f.profileHeader == "" {
		f.profileHeader = profile.DefaultHeader
	}
	if f.sessionCookie == "" {
		f.sessionCookie = auth.DefaultSessionCookie
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	f.proxy = &httputil.ReverseProxy{
		Rewrite:       f.rewrite,
		Transport:     cfg.Transport,
		FlushInterval: cfg.FlushInterval,
		ErrorHandler:  f.handleError,
	}
	return f
}

// Forward proxies r according to fwd. Nothing is sent downstream once the
// client has gone away.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, fwd *Forward, requestID string) {
	if err := r.Context().Err(); err != nil {
		f.logger.Info("client gone before forward", slog.String("service", fwd.Route.Service), slog.Any("error", err))
		return
	}
	ctx := context.WithValue(r.Context(), forwardKey{}, forwardState{fwd: fwd, requestID: requestID})
	f.proxy.ServeHTTP(w, r.WithContext(ctx))
}

type forwardState struct {
	fwd       *Forward
	requestID string
}

func (f *Forwarder) rewrite(pr *httputil.ProxyRequest) {
	state, _ := pr.In.Context().Value(forwardKey{}).(forwardState)
	if state.fwd == nil {
		return
	}
	target := *state.fwd.Target
	pr.Out.URL = &target
	pr.Out.Host = target.Host
	pr.SetXForwarded()

	for _, h := range []string{auth.HeaderAuthorization, auth.HeaderSessionToken, auth.HeaderServiceID, auth.HeaderServiceSecret} {
		pr.Out.Header.Del(h)
	}
	stripCookie(pr.Out, f.sessionCookie)
	pr.Out.Header.Del(f.profileHeader)
	if state.fwd.ContextHeader != "" {
		pr.Out.Header.Set(f.profileHeader, state.fwd.ContextHeader)
	}
	pr.Out.Header.Set(HeaderForwardedService, state.fwd.Route.Service)
	if state.requestID != "" {
		pr.Out.Header.Set(HeaderRequestID, state.requestID)
	}
}

func stripCookie(r *http.Request, name string) {
	cookies := r.Cookies()
	if len(cookies) == 0 {
		return
	}
	kept := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == name {
			continue
		}
		kept = append(kept, c.Name+"="+c.Value)
	}
	r.Header.Del("Cookie")
	if len(kept) > 0 {
		r.Header.Set("Cookie", strings.Join(kept, "; "))
	}
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(r.Context().Err(), context.Canceled) {
		f.logger.Info("client cancelled forwarded request", slog.Any("error", err))
		return
	}
	f.logger.Error("forward request", slog.String("path", r.URL.Path), slog.Any("error", err))
	if errors.Is(err, context.DeadlineExceeded) {
		httpx.Problem(w, http.StatusGatewayTimeout, "Gateway Timeout", "")
		return
	}
	httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "")
}
