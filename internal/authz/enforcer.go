// Package authz maps token roles onto the route surfaces they may call.
package authz

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"resource-service/common/httputil"
	"resource-service/internal/token"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj) && regexMatch(r.act, p.act)
`

const anyMethod = "^(GET|POST|PUT|DELETE)$"

// DefaultPolicies gives each role its own route prefix.
var DefaultPolicies = [][]string{
	{string(token.RoleAdmin), "/admin/*", anyMethod},
	{string(token.RoleStudent), "/student/*", anyMethod},
}

type Enforcer struct {
	enforcer *casbin.Enforcer
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewEnforcer(policies [][]string, logger *slog.Logger) (*Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse casbin model: %w", err)
	}

	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	for _, p := range policies {
		if _, err := enforcer.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("failed to add policy [%s, %s, %s]: %w", p[0], p[1], p[2], err)
		}
	}

	return &Enforcer{enforcer: enforcer, logger: logger}, nil
}

func (e *Enforcer) Enforce(role token.Role, path, method string) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	allowed, err := e.enforcer.Enforce(string(role), path, method)
	if err != nil {
		return false, fmt.Errorf("permission check failed: %w", err)
	}
	return allowed, nil
}

// Middleware rejects callers whose role may not reach the requested route.
// It must run after the token has been verified.
func (e *Enforcer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := token.FromContext(r.Context())
		if !ok {
			httputil.RespondWithMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		allowed, err := e.Enforce(claims.Role, r.URL.Path, r.Method)
		if err != nil {
			e.logger.ErrorContext(r.Context(), "permission check failed", "role", claims.Role, "path", r.URL.Path, "error", err)
			httputil.RespondWithMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !allowed {
			e.logger.WarnContext(r.Context(), "role not permitted", "role", claims.Role, "path", r.URL.Path, "method", r.Method)
			httputil.RespondWithMessage(w, http.StatusForbidden, "forbidden")
			return
		}

		next.ServeHTTP(w, r)
	})
}
