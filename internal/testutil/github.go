package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
)

// Client credentials accepted by FakeGitHub's token endpoint.
const (
	FakeClientID     = "client-id"
	FakeClientSecret = "client-secret"
)

// FakeUser is a GitHub account known to FakeGitHub.
type FakeUser struct {
	Login string
	Name  string
	Email string
}

type fakeGrant struct {
	token    string
	verifier string
	scope    string
}

type fakeTeam struct {
	id      int64
	name    string
	slug    string
	members []string
}

// FakeGitHub is an httptest server speaking enough of the GitHub Enterprise
// API (rooted at /api/v3) and OAuth endpoints for the login flow. Logins and
// organization names are matched case-insensitively, like GitHub does.
type FakeGitHub struct {
	Server *httptest.Server

	mu       sync.Mutex
	users    map[string]FakeUser
	tokens   map[string]string
	orgs     map[string]string
	members  map[string][]string
	teams    map[string][]*fakeTeam
	grants   map[string]fakeGrant
	failures map[string]int
	requests []string
	nextID   int64
}

// NewFakeGitHub starts a fake GitHub that is closed when the test ends.
func NewFakeGitHub(t *testing.T) *FakeGitHub {
	t.Helper()

	f := &FakeGitHub{
		users:    make(map[string]FakeUser),
		tokens:   make(map[string]string),
		orgs:     make(map[string]string),
		members:  make(map[string][]string),
		teams:    make(map[string][]*fakeTeam),
		grants:   make(map[string]fakeGrant),
		failures: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", f.handleAccessToken)
	mux.HandleFunc("GET /api/v3/user", f.handleMyself)
	mux.HandleFunc("GET /api/v3/user/orgs", f.handleMyOrganizations)
	mux.HandleFunc("GET /api/v3/user/teams", f.handleMyTeams)
	mux.HandleFunc("GET /api/v3/users/{login}", f.handleUser)
	mux.HandleFunc("GET /api/v3/orgs/{org}", f.handleOrganization)
	mux.HandleFunc("GET /api/v3/orgs/{org}/members/{login}", f.handleOrganizationMember)
	mux.HandleFunc("GET /api/v3/orgs/{org}/teams", f.handleTeams)
	mux.HandleFunc("GET /api/v3/orgs/{org}/teams/{slug}/memberships/{login}", f.handleTeamMembership)
	mux.HandleFunc("GET /api/v3/search/users", f.handleSearchUsers)

	f.Server = httptest.NewServer(f.record(mux))
	t.Cleanup(f.Server.Close)

	return f
}

// URL is the base URL to use as the GitHub Enterprise URL.
func (f *FakeGitHub) URL() string {
	return f.Server.URL
}

// AddUser registers an account. A non-empty token authenticates as that user.
func (f *FakeGitHub) AddUser(user FakeUser, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[strings.ToLower(user.Login)] = user
	if token != "" {
		f.tokens[token] = strings.ToLower(user.Login)
	}
}

// AddOrganization registers an organization and its members.
func (f *FakeGitHub) AddOrganization(org string, members ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(org)
	f.orgs[key] = org
	f.members[key] = append(f.members[key], lowerAll(members)...)
}

// AddTeam registers a team of org with its active members.
func (f *FakeGitHub) AddTeam(org, name string, members ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.ToLower(org)
	if _, ok := f.orgs[key]; !ok {
		f.orgs[key] = org
	}
	f.nextID++
	f.teams[key] = append(f.teams[key], &fakeTeam{
		id:      f.nextID,
		name:    name,
		slug:    strings.ReplaceAll(strings.ToLower(name), " ", "-"),
		members: lowerAll(members),
	})
}

// AddAuthorizationCode makes code exchangeable for token. When verifier is
// non-empty the exchange must present the same code_verifier.
func (f *FakeGitHub) AddAuthorizationCode(code, token, verifier, scope string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[code] = fakeGrant{token: token, verifier: verifier, scope: scope}
}

// FailPath makes every request to path answer with status.
func (f *FakeGitHub) FailPath(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = status
}

// Requests returns the "METHOD path" of every request received so far.
func (f *FakeGitHub) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.requests)
}

// RequestCount counts received requests equal to "METHOD path".
func (f *FakeGitHub) RequestCount(request string) int {
	n := 0
	for _, r := range f.Requests() {
		if r == request {
			n++
		}
	}
	return n
}

func (f *FakeGitHub) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.Path)
		status, fail := f.failures[r.URL.Path]
		f.mu.Unlock()

		if fail {
			writeJSON(w, status, map[string]string{"message": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeGitHub) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	if r.PostForm.Get("client_id") != FakeClientID || r.PostForm.Get("client_secret") != FakeClientSecret {
		writeJSON(w, http.StatusOK, map[string]string{"error": "incorrect_client_credentials"})
		return
	}

	f.mu.Lock()
	grant, ok := f.grants[r.PostForm.Get("code")]
	if ok {
		delete(f.grants, r.PostForm.Get("code"))
	}
	f.mu.Unlock()

	if !ok || (grant.verifier != "" && grant.verifier != r.PostForm.Get("code_verifier")) {
		writeJSON(w, http.StatusOK, map[string]string{"error": "bad_verification_code"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": grant.token,
		"token_type":   "bearer",
		"scope":        grant.scope,
	})
}

func (f *FakeGitHub) caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token := strings.TrimSpace(auth[strings.IndexByte(auth, ' ')+1:])

	f.mu.Lock()
	login, ok := f.tokens[token]
	f.mu.Unlock()

	if auth == "" || !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
		return "", false
	}
	return login, true
}

func (f *FakeGitHub) handleMyself(w http.ResponseWriter, r *http.Request) {
	login, ok := f.caller(w, r)
	if !ok {
		return
	}
	f.writeUser(w, login)
}

func (f *FakeGitHub) handleUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.caller(w, r); !ok {
		return
	}
	f.writeUser(w, strings.ToLower(r.PathValue("login")))
}

func (f *FakeGitHub) writeUser(w http.ResponseWriter, login string) {
	f.mu.Lock()
	user, ok := f.users[login]
	f.mu.Unlock()

	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, userJSON(user))
}

func (f *FakeGitHub) handleOrganization(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.caller(w, r); !ok {
		return
	}

	f.mu.Lock()
	org, ok := f.orgs[strings.ToLower(r.PathValue("org"))]
	f.mu.Unlock()

	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"login": org})
}

func (f *FakeGitHub) handleOrganizationMember(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.caller(w, r); !ok {
		return
	}

	f.mu.Lock()
	members := f.members[strings.ToLower(r.PathValue("org"))]
	isMember := slices.Contains(members, strings.ToLower(r.PathValue("login")))
	f.mu.Unlock()

	if !isMember {
		notFound(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *FakeGitHub) handleMyOrganizations(w http.ResponseWriter, r *http.Request) {
	login, ok := f.caller(w, r)
	if !ok {
		return
	}

	f.mu.Lock()
	orgs := []map[string]any{}
	for key, members := range f.members {
		if slices.Contains(members, login) {
			orgs = append(orgs, map[string]any{"login": f.orgs[key]})
		}
	}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, orgs)
}

func (f *FakeGitHub) handleTeams(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.caller(w, r); !ok {
		return
	}

	key := strings.ToLower(r.PathValue("org"))
	f.mu.Lock()
	_, known := f.orgs[key]
	teams := []map[string]any{}
	for _, team := range f.teams[key] {
		teams = append(teams, map[string]any{"id": team.id, "name": team.name, "slug": team.slug})
	}
	f.mu.Unlock()

	if !known {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (f *FakeGitHub) handleTeamMembership(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.caller(w, r); !ok {
		return
	}

	key := strings.ToLower(r.PathValue("org"))
	login := strings.ToLower(r.PathValue("login"))

	f.mu.Lock()
	var active bool
	for _, team := range f.teams[key] {
		if team.slug == r.PathValue("slug") && slices.Contains(team.members, login) {
			active = true
		}
	}
	f.mu.Unlock()

	if !active {
		notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": "active", "role": "member"})
}

func (f *FakeGitHub) handleMyTeams(w http.ResponseWriter, r *http.Request) {
	login, ok := f.caller(w, r)
	if !ok {
		return
	}

	f.mu.Lock()
	teams := []map[string]any{}
	for key, orgTeams := range f.teams {
		for _, team := range orgTeams {
			if slices.Contains(team.members, login) {
				teams = append(teams, map[string]any{
					"id":           team.id,
					"name":         team.name,
					"slug":         team.slug,
					"organization": map[string]any{"login": f.orgs[key]},
				})
			}
		}
	}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, teams)
}

func (f *FakeGitHub) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := f.caller(w, r); !ok {
		return
	}

	term := strings.ToLower(r.URL.Query().Get("q"))

	f.mu.Lock()
	items := []map[string]any{}
	for key, user := range f.users {
		if strings.Contains(key, term) {
			items = append(items, userJSON(user))
		}
	}
	f.mu.Unlock()

	slices.SortFunc(items, func(a, b map[string]any) int {
		return strings.Compare(a["login"].(string), b["login"].(string))
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"total_count":        len(items),
		"incomplete_results": false,
		"items":              items,
	})
}

func userJSON(user FakeUser) map[string]any {
	u := map[string]any{"login": user.Login, "name": user.Name}
	if user.Email != "" {
		u["email"] = user.Email
	}
	return u
}

func notFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}
