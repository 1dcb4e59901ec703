package github

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/giantswarm/github-authz/internal/testutil"
	"github.com/giantswarm/github-authz/providers"
	"github.com/giantswarm/github-authz/security"
)

func publicConfig() providers.ProviderConfiguration {
	return providers.NewProviderConfiguration(providers.ProviderConfiguration{
		ClientID:            "client-id",
		ClientSecret:        "client-secret",
		PersonalAccessToken: "server-token",
	})
}

func enterpriseConfig(baseURL string) providers.ProviderConfiguration {
	return providers.NewProviderConfiguration(providers.ProviderConfiguration{
		ClientID:            testutil.FakeClientID,
		ClientSecret:        testutil.FakeClientSecret,
		PersonalAccessToken: "server-token",
		AuthenticateWith:    providers.AuthenticateWithGitHubEnterprise,
		EnterpriseURL:       baseURL,
	})
}

func TestAuthorizationRequest_PublicGitHub(t *testing.T) {
	authURL, session, err := AuthorizationRequest(publicConfig(), "call-back-url")
	if err != nil {
		t.Fatalf("AuthorizationRequest() error = %v", err)
	}

	wantPrefix := "https://github.com/login/oauth/authorize?client_id=client-id&redirect_uri=call-back-url&response_type=code&scope=user%3Aemail&state="
	if !strings.HasPrefix(authURL, wantPrefix) {
		t.Fatalf("URL = %q, want prefix %q", authURL, wantPrefix)
	}

	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	q := parsed.Query()

	if q.Get("state") != session.State {
		t.Errorf("state = %q, want session state %q", q.Get("state"), session.State)
	}
	if q.Get("code_challenge_method") != "S256" {
		t.Errorf("code_challenge_method = %q, want S256", q.Get("code_challenge_method"))
	}
	if !security.VerifyProofKey(session.CodeVerifier, q.Get("code_challenge")) {
		t.Error("code_challenge does not match the session verifier")
	}

	wantTail := "&code_challenge_method=S256&code_challenge=" + q.Get("code_challenge")
	if !strings.HasSuffix(authURL, wantTail) {
		t.Errorf("URL = %q, want suffix %q", authURL, wantTail)
	}
	if want := wantPrefix + url.QueryEscape(session.State) + wantTail; authURL != want {
		t.Errorf("URL = %q, want %q", authURL, want)
	}
}

func TestAuthorizationRequest_Enterprise(t *testing.T) {
	cfg := enterpriseConfig("https://ghe.example.com/")
	cfg.AuthorizeUsing = providers.AuthorizeUsingUserAccessToken

	authURL, _, err := AuthorizationRequest(cfg, "https://ci.example.com/callback")
	if err != nil {
		t.Fatalf("AuthorizationRequest() error = %v", err)
	}

	wantPrefix := "https://ghe.example.com/login/oauth/authorize?client_id=client-id&redirect_uri=https%3A%2F%2Fci.example.com%2Fcallback&response_type=code&scope=user%3Aemail+read%3Aorg&state="
	if !strings.HasPrefix(authURL, wantPrefix) {
		t.Errorf("URL = %q, want prefix %q", authURL, wantPrefix)
	}
}

func TestAuthorizationRequest_FreshArtifacts(t *testing.T) {
	url1, s1, _ := AuthorizationRequest(publicConfig(), "cb")
	url2, s2, _ := AuthorizationRequest(publicConfig(), "cb")

	if s1.State == s2.State || s1.CodeVerifier == s2.CodeVerifier {
		t.Error("successive requests share state or verifier")
	}
	if url1 == url2 {
		t.Error("successive requests produced the same URL")
	}
}

func TestAuthorizationRequest_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		cfg  providers.ProviderConfiguration
	}{
		{
			name: "missing client id",
			cfg:  providers.NewProviderConfiguration(providers.ProviderConfiguration{ClientSecret: "s"}),
		},
		{
			name: "enterprise without url",
			cfg: providers.NewProviderConfiguration(providers.ProviderConfiguration{
				ClientID:         "client-id",
				AuthenticateWith: providers.AuthenticateWithGitHubEnterprise,
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := AuthorizationRequest(tt.cfg, "cb")
			if !providers.IsConfigurationError(err) {
				t.Errorf("error = %v, want configuration error", err)
			}
		})
	}
}

func TestValidateState(t *testing.T) {
	session := &providers.AuthSession{State: "state-1", CodeVerifier: "verifier"}

	tests := []struct {
		name          string
		session       *providers.AuthSession
		redirectState string
		wantErr       error
	}{
		{name: "matching", session: session, redirectState: "state-1"},
		{name: "nil session skips validation", session: nil, redirectState: "anything"},
		{name: "nil session without state", session: nil, redirectState: ""},
		{name: "mismatch", session: session, redirectState: "state-2", wantErr: providers.ErrStateMismatch},
		{name: "missing redirect state", session: session, redirectState: "", wantErr: providers.ErrStateMissing},
		{name: "missing session state", session: &providers.AuthSession{}, redirectState: "state-1", wantErr: providers.ErrStateMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateState(tt.session, tt.redirectState)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateState() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateState() error = %v, want %v", err, tt.wantErr)
			}
			if !providers.IsAuthenticationError(err) {
				t.Errorf("ValidateState() error = %v, want authentication error", err)
			}
		})
	}
}

func TestExchangeCode(t *testing.T) {
	fake := testutil.NewFakeGitHub(t)
	cfg := enterpriseConfig(fake.URL())
	auth := NewAuthenticator(Options{})

	fake.AddAuthorizationCode("good-code", "user-token", "the-verifier", "user:email")

	token, err := auth.ExchangeCode(context.Background(), cfg, "good-code", &providers.AuthSession{State: "s", CodeVerifier: "the-verifier"})
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}

	if token.AccessToken != "user-token" {
		t.Errorf("AccessToken = %q, want user-token", token.AccessToken)
	}
	if !strings.EqualFold(token.TokenType, "bearer") {
		t.Errorf("TokenType = %q, want bearer", token.TokenType)
	}
	if token.Scope != "user:email" {
		t.Errorf("Scope = %q, want user:email", token.Scope)
	}
	if fake.RequestCount("POST /login/oauth/access_token") != 1 {
		t.Errorf("requests = %v, want one token request", fake.Requests())
	}
}

func TestExchangeCode_NilSessionSendsNoVerifier(t *testing.T) {
	fake := testutil.NewFakeGitHub(t)
	fake.AddAuthorizationCode("code", "user-token", "", "user:email")

	token, err := NewAuthenticator(Options{}).ExchangeCode(context.Background(), enterpriseConfig(fake.URL()), "code", nil)
	if err != nil {
		t.Fatalf("ExchangeCode() error = %v", err)
	}
	if token.AccessToken != "user-token" {
		t.Errorf("AccessToken = %q, want user-token", token.AccessToken)
	}
}

func TestExchangeCode_Failures(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(f *testutil.FakeGitHub)
		code          string
		session       *providers.AuthSession
		wantAuth      bool
		wantTransport bool
	}{
		{
			name:     "wrong verifier",
			setup:    func(f *testutil.FakeGitHub) { f.AddAuthorizationCode("code", "tok", "expected", "") },
			code:     "code",
			session:  &providers.AuthSession{State: "s", CodeVerifier: "other"},
			wantAuth: true,
		},
		{
			name:     "unknown code",
			setup:    func(*testutil.FakeGitHub) {},
			code:     "unknown",
			wantAuth: true,
		},
		{
			name:     "non-2xx response",
			setup:    func(f *testutil.FakeGitHub) { f.FailPath("/login/oauth/access_token", http.StatusServiceUnavailable) },
			code:     "code",
			wantAuth: true,
		},
		{
			name:     "missing code",
			setup:    func(*testutil.FakeGitHub) {},
			code:     "",
			wantAuth: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := testutil.NewFakeGitHub(t)
			tt.setup(fake)

			_, err := NewAuthenticator(Options{}).ExchangeCode(context.Background(), enterpriseConfig(fake.URL()), tt.code, tt.session)
			if err == nil {
				t.Fatal("ExchangeCode() error = nil, want error")
			}
			if tt.wantAuth && !providers.IsAuthenticationError(err) {
				t.Errorf("error = %v, want authentication error", err)
			}
		})
	}
}

func TestExchangeCode_NonSuccessStatusNamedInError(t *testing.T) {
	fake := testutil.NewFakeGitHub(t)
	fake.FailPath("/login/oauth/access_token", http.StatusBadGateway)

	_, err := NewAuthenticator(Options{}).ExchangeCode(context.Background(), enterpriseConfig(fake.URL()), "code", nil)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestExchangeCode_TransportError(t *testing.T) {
	fake := testutil.NewFakeGitHub(t)
	baseURL := fake.URL()
	fake.Server.Close()

	_, err := NewAuthenticator(Options{RequestTimeout: time.Second}).ExchangeCode(context.Background(), enterpriseConfig(baseURL), "code", nil)
	if !providers.IsTransportError(err) {
		t.Errorf("error = %v, want transport error", err)
	}
}

func TestExchangeCode_InvalidConfiguration(t *testing.T) {
	cfg := publicConfig()
	cfg.ClientSecret = ""

	_, err := NewAuthenticator(Options{}).ExchangeCode(context.Background(), cfg, "code", nil)
	if !providers.IsConfigurationError(err) {
		t.Errorf("error = %v, want configuration error", err)
	}
}
