package middleware

import (
	"encoding/json"
	"log"
	"net/http"
)

// publicPaths are reachable without a key: probes, the banner and the
// prometheus scrape target.
var publicPaths = map[string]bool{
	"/":             true,
	"/health":       true,
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
}

// APIKeyAuth checks X-API-Key against a static allow-list. An empty list
// disables auth entirely (development mode).
type APIKeyAuth struct {
	keys map[string]bool
}

func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	if len(set) == 0 {
		log.Println("[Auth] no API keys configured, all requests accepted")
	}
	return &APIKeyAuth{keys: set}
}

func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.keys) == 0 || publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" || !a.keys[key] {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"success":     false,
				"error":       "invalid or missing API key",
				"status_code": http.StatusUnauthorized,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
