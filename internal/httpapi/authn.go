package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"signalo.org/internal/auth"
	"signalo.org/internal/policy"
)

// publicPaths never require a bearer token.
var publicPaths = map[string]bool{
	"/":              true,
	"/healthz":       true,
	"/readyz":        true,
	"/metrics":       true,
	"/openapi.yaml":  true,
	"/v1/info":       true,
	"/v1/auth/token": true,
}

// withAuth authenticates the bearer token, loads the user and its
// organization, and places both the claims and the flattened policy actor on
// the context. Everything behind it can assume an authenticated actor.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := a.users.Find(r.Context(), claims.Subject)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unknown user")
			return
		}
		org, err := a.orgs.FindOrganization(r.Context(), user.OrganizationID)
		if err != nil {
			// A super admin may outlive its organization; everyone else
			// needs one to be scoped at all.
			if !user.SuperAdmin {
				writeError(w, r, http.StatusUnauthorized, "unknown organization")
				return
			}
			org = nil
		}

		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = policy.ContextWithActor(ctx, policy.ActorFromUser(user, org))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("malformed Authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}

// requireActor pulls the policy actor from the context; a missing actor means
// the request skipped authentication, which only happens on public paths.
func requireActor(w http.ResponseWriter, r *http.Request) (policy.Actor, bool) {
	actor, ok := policy.ActorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return policy.Actor{}, false
	}
	return actor, true
}
