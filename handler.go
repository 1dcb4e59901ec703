package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/github-authz/instrumentation"
	"github.com/giantswarm/github-authz/security"
)

// DefaultSessionCookieName names the cookie carrying the sealed AuthSession.
const DefaultSessionCookieName = "github_authz_session"

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	// AuthConfig is the GitHub configuration users log in with (required).
	AuthConfig AuthConfig

	// Roles are evaluated for every user that logs in.
	Roles []RoleDefinition

	// CallbackURL is the absolute URL of ServeCallback registered with the OAuth App (required).
	CallbackURL string

	// Sealer encrypts the session cookie (required).
	Sealer *SessionSealer

	// CookieName defaults to DefaultSessionCookieName.
	CookieName string

	// InsecureCookie drops the Secure attribute, for plain HTTP development setups.
	InsecureCookie bool

	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// WARNING: Only enable if behind a trusted reverse proxy
	TrustProxy bool

	// LoginRateLimiter limits login and callback requests per client IP. Optional.
	LoginRateLimiter *security.RateLimiter
}

// Handler serves the browser side of the GitHub login: ServeLogin redirects
// to GitHub and ServeCallback completes the login and reports the roles.
type Handler struct {
	service *Service
	config  HandlerConfig
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewHandler creates a Handler for service.
func NewHandler(service *Service, config HandlerConfig) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("service is required")
	}
	if config.Sealer == nil {
		return nil, fmt.Errorf("session sealer is required")
	}
	if config.CallbackURL == "" {
		return nil, fmt.Errorf("callback URL is required")
	}
	if err := config.AuthConfig.Configuration.ValidateForOAuth(); err != nil {
		return nil, err
	}
	if config.CookieName == "" {
		config.CookieName = DefaultSessionCookieName
	}

	return &Handler{
		service: service,
		config:  config,
		logger:  service.logger,
		tracer:  service.inst.Tracer("http"),
	}, nil
}

// Register mounts the login and callback endpoints on mux, with request IDs.
func (h *Handler) Register(mux *http.ServeMux, loginPath, callbackPath string) {
	mux.Handle(loginPath, security.RequestIDMiddleware(http.HandlerFunc(h.ServeLogin)))
	mux.Handle(callbackPath, security.RequestIDMiddleware(http.HandlerFunc(h.ServeCallback)))
}

// ServeLogin redirects the user to GitHub, storing the session in an encrypted cookie.
func (h *Handler) ServeLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "authz.http.login")
	defer span.End()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.ClientIP(r, h.config.TrustProxy)
	instrumentation.AddClientIPAttribute(span, clientIP)
	ctx = withClientIP(ctx, clientIP)

	if !h.checkRateLimit(ctx, w, clientIP) {
		return
	}

	authCfg := h.config.AuthConfig
	authURL, session, err := h.service.BuildAuthorizationRequest(ctx, authCfg, h.config.CallbackURL)
	if err != nil {
		h.writeFlowError(w, r, err)
		return
	}

	sealed, err := h.config.Sealer.Seal(authCfg.ID, session)
	if err != nil {
		h.logger.Error("Failed to seal login session", "error", err)
		h.writeError(w, ErrorCodeServerError, "Login failed.", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, h.sessionCookie(sealed, int(h.config.Sealer.TTL()/time.Second)))
	security.SetNoStoreHeaders(w)
	instrumentation.SetSpanSuccess(span)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback completes the login: it checks the state against the session
// cookie, exchanges the code, enforces the allowed organizations and writes
// the user and roles as JSON.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "authz.http.callback")
	defer span.End()

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.ClientIP(r, h.config.TrustProxy)
	instrumentation.AddClientIPAttribute(span, clientIP)
	ctx = withClientIP(ctx, clientIP)

	if !h.checkRateLimit(ctx, w, clientIP) {
		return
	}

	authCfg := h.config.AuthConfig
	query := r.URL.Query()

	// The session is single use, whatever the outcome.
	http.SetCookie(w, h.sessionCookie("", -1))

	if errorParam := query.Get("error"); errorParam != "" {
		h.logger.Warn("GitHub returned error",
			"error", errorParam,
			"description", query.Get("error_description"),
			"request_id", security.RequestID(ctx))
		h.service.auditor.LogAuthFailure("", authCfg.ID, clientIP, errorParam)
		instrumentation.SetSpanError(span, errorParam)
		h.writeError(w, ErrorCodeAccessDenied, "GitHub did not authorize the login.", http.StatusForbidden)
		return
	}

	code := query.Get("code")
	if code == "" {
		instrumentation.SetSpanError(span, "missing code")
		h.writeError(w, ErrorCodeInvalidRequest, "code is required", http.StatusBadRequest)
		return
	}

	session, err := h.readSession(r, authCfg.ID)
	if err != nil {
		h.logger.Warn("Login session unusable",
			"error", err,
			"request_id", security.RequestID(ctx))
		h.service.auditor.LogAuthFailure("", authCfg.ID, clientIP, "session unusable")
		instrumentation.RecordError(span, err)
		if !IsSessionError(err) {
			h.writeError(w, ErrorCodeServerError, "Login failed.", http.StatusInternalServerError)
			return
		}
		h.writeError(w, ErrorCodeInvalidRequest, "The login session is missing or has expired. Please log in again.", http.StatusBadRequest)
		return
	}

	token, err := h.service.ExchangeToken(ctx, authCfg, code, session, query.Get("state"))
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeFlowError(w, r, err)
		return
	}

	result, err := h.service.Authenticate(ctx, authCfg, token, h.config.Roles)
	if err != nil {
		instrumentation.RecordError(span, err)
		h.writeFlowError(w, r, err)
		return
	}

	if !result.Authenticated() {
		instrumentation.SetSpanError(span, "not a member")
		h.writeFlowError(w, r, ErrNotAMember)
		return
	}

	instrumentation.AddAuthAttributes(span, authCfg.ID, result.Identity.Username)
	instrumentation.SetSpanSuccess(span)

	security.SetNoStoreHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"user":  result.Identity,
		"roles": result.Roles,
	})
}

func (h *Handler) readSession(r *http.Request, authConfigID string) (*AuthSession, error) {
	cookie, err := r.Cookie(h.config.CookieName)
	if err != nil {
		return nil, err
	}
	if cookie.Value == "" {
		return nil, http.ErrNoCookie
	}
	return h.config.Sealer.Open(authConfigID, cookie.Value)
}

func (h *Handler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     h.config.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !h.config.InsecureCookie,
		// Lax, so the cookie comes back on the top-level redirect from GitHub.
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *Handler) checkRateLimit(ctx context.Context, w http.ResponseWriter, clientIP string) bool {
	if h.config.LoginRateLimiter == nil || h.config.LoginRateLimiter.Allow(clientIP) {
		return true
	}

	h.logger.Warn("Login rate limit exceeded", "ip", clientIP)
	h.service.metrics.RecordRateLimitExceeded(ctx, "login")
	h.service.auditor.LogRateLimitExceeded(clientIP, clientIP)
	w.Header().Set("Retry-After", "1")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Too many login attempts. Please try again later.", http.StatusTooManyRequests)
	return false
}

func (h *Handler) writeFlowError(w http.ResponseWriter, r *http.Request, err error) {
	herr := handlerErrorFor(err)

	level := slog.LevelWarn
	if herr.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "Login failed",
		"status", herr.Status,
		"code", herr.Code,
		"request_id", security.RequestID(r.Context()),
		"error", err)

	h.writeError(w, herr.Code, herr.Description, herr.Status)
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetNoStoreHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

type clientIPKey struct{}

func withClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// clientIPFrom returns the client IP stored by Handler, or "".
func clientIPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// IsSessionError reports whether err came from an unusable session cookie.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionExpired) || errors.Is(err, security.ErrInvalidCiphertext) || errors.Is(err, http.ErrNoCookie)
}
