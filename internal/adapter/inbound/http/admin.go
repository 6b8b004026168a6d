package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"
	"gopkg.in/yaml.v3"

	"github.com/elfnet/accessrl/internal/service/policyprovider"
)

// AdminHandler serves the /admin/policy reload/inspect endpoint. GET
// returns the active policy set as JSON (or YAML with ?format=yaml); POST
// forces a snapshot rebuild from the
// current configuration file. Both require a bearer token verified against
// an argon2id hash configured out of band.
type AdminHandler struct {
	provider  *policyprovider.Provider
	tokenHash string
	reload    func() error
}

// NewAdminHandler builds an AdminHandler. tokenHash is the argon2id PHC
// string the bearer token must match. reload is invoked on POST to rebuild
// the policy snapshot from the current configuration source.
func NewAdminHandler(provider *policyprovider.Provider, tokenHash string, reload func() error) *AdminHandler {
	return &AdminHandler{provider: provider, tokenHash: tokenHash, reload: reload}
}

type policySummary struct {
	Name               string `json:"name" yaml:"name"`
	Limit              int    `json:"limit" yaml:"limit"`
	WindowSeconds      int    `json:"window_seconds" yaml:"window_seconds"`
	Cost               int    `json:"cost" yaml:"cost"`
	AuthenticatedLimit int    `json:"authenticated_limit,omitempty" yaml:"authenticated_limit,omitempty"`
	AnonymousLimit     int    `json:"anonymous_limit,omitempty" yaml:"anonymous_limit,omitempty"`
	Enabled            bool   `json:"enabled" yaml:"enabled"`
}

type adminResponse struct {
	Default  string          `json:"default_policy" yaml:"default_policy"`
	Policies []policySummary `json:"policies" yaml:"policies"`
}

func (h *AdminHandler) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authorized(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		switch r.Method {
		case http.MethodGet:
			h.handleInspect(w, r)
		case http.MethodPost:
			h.handleReload(w, r)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// authorized validates the Authorization: Bearer <token> header against
// the configured argon2id hash.
func (h *AdminHandler) authorized(r *http.Request) bool {
	if h.tokenHash == "" {
		return false
	}
	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	match, err := safeArgon2idCompare(token, h.tokenHash)
	if err != nil {
		return false
	}
	return match
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(auth, prefix)
	if token == "" {
		return "", false
	}
	return token, true
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery: the underlying library panics on malformed hash parameters
// rather than returning an error.
func safeArgon2idCompare(token, hash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(token, hash)
}

func (h *AdminHandler) handleInspect(w http.ResponseWriter, r *http.Request) {
	policies, defaultName := h.provider.Policies()
	resp := adminResponse{Default: defaultName, Policies: make([]policySummary, 0, len(policies))}
	for _, p := range policies {
		resp.Policies = append(resp.Policies, policySummary{
			Name:               p.Name,
			Limit:              p.Limit,
			WindowSeconds:      int(p.Window.Seconds()),
			Cost:               p.Cost,
			AuthenticatedLimit: p.AuthenticatedLimit,
			AnonymousLimit:     p.AnonymousLimit,
			Enabled:            p.Enabled,
		})
	}

	if r.URL.Query().Get("format") == "yaml" {
		data, err := yaml.Marshal(resp)
		if err != nil {
			http.Error(w, "failed to render policy set", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *AdminHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.reload(); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	h.handleInspect(w, r)
}
