package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/R3E-Network/service_layer/internal/app/dsperr"
	"github.com/R3E-Network/service_layer/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
)

// publicPaths bypass auth entirely: health checks and the data plane (the
// proxy enforces its own session-scoped authorization per §4.4, not bearer
// tokens).
var publicPaths = map[string]struct{}{
	"/health": {},
}

type ctxKey string

const (
	ctxParticipantKey ctxKey = "httpapi.participant"
	ctxTokenKey       ctxKey = "httpapi.token"
)

func isDataPlanePath(path string) bool {
	return strings.HasPrefix(path, "/data/pull/") || strings.HasPrefix(path, "/data/push/")
}

// Claims identifies the dataspace participant a bearer token was issued to.
type Claims struct {
	ParticipantID string
}

// JWTValidator abstracts token validation so the transport layer isn't tied
// to one signing scheme.
type JWTValidator interface {
	Validate(token string) (*Claims, error)
}

// HS256Validator validates connector-issued JWTs signed with a shared secret.
type HS256Validator struct {
	secret []byte
}

// NewHS256Validator constructs a validator. An empty secret disables it
// (Validate always fails), which New*Validator callers should treat as "not
// configured" rather than wiring it in.
func NewHS256Validator(secret string) *HS256Validator {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return &HS256Validator{secret: []byte(secret)}
}

func (v *HS256Validator) Validate(token string) (*Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, fmt.Errorf("jwt secret not configured")
	}
	raw := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	sub, _ := raw["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token carries no subject")
	}
	return &Claims{ParticipantID: sub}, nil
}

// compositeValidator tries multiple validators until one succeeds.
type compositeValidator struct {
	validators []JWTValidator
}

// NewCompositeValidator returns a JWTValidator that tries each non-nil
// validator in order. Returns nil if none are configured.
func NewCompositeValidator(validators ...JWTValidator) JWTValidator {
	filtered := make([]JWTValidator, 0, len(validators))
	for _, v := range validators {
		// NewHS256Validator returns a nil *HS256Validator for a blank
		// secret; that is a non-nil interface value, so test for it too.
		if hv, ok := v.(*HS256Validator); ok && hv == nil {
			continue
		}
		if v != nil {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return compositeValidator{validators: filtered}
}

func (c compositeValidator) Validate(token string) (*Claims, error) {
	var lastErr error
	for _, v := range c.validators {
		claims, err := v.Validate(token)
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("no validators configured")
}

// wrapWithAuth enforces bearer-token auth on every path except publicPaths
// and the data plane (proxy-enforced session auth per §4.4). A static token
// set and a JWTValidator may both be configured; the static set is checked
// first.
func wrapWithAuth(next http.Handler, tokens []string, validator JWTValidator, log *logger.Logger) http.Handler {
	tokenSet := normaliseTokens(tokens)
	if len(tokenSet) == 0 && validator == nil && log != nil {
		log.Warn("no bearer tokens or JWT validator configured; all non-public endpoints will reject")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if _, ok := publicPaths[r.URL.Path]; ok || isDataPlanePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			unauthorised(w)
			return
		}
		if _, ok := tokenSet[token]; ok {
			ctx := context.WithValue(r.Context(), ctxTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		if validator != nil {
			if claims, err := validator.Validate(token); err == nil {
				ctx := context.WithValue(r.Context(), ctxParticipantKey, claims.ParticipantID)
				ctx = context.WithValue(ctx, ctxTokenKey, token)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		unauthorised(w)
	})
}

// extractToken supports the standard Authorization header only.
func extractToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.Fields(authHeader)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func normaliseTokens(tokens []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range tokens {
		t := strings.TrimSpace(token)
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

func unauthorised(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, dsperr.Unauthorized("missing or invalid bearer token"))
}
