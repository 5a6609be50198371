package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/dapp_gateway/pkg/logger"
)

// AdminClaims are the claims of a wallet operator token.
type AdminClaims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 operator token valid for ttl.
func IssueAdminToken(secret []byte, operator string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &AdminClaims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   operator,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// AdminAuth requires a bearer operator token on every path except the
// public ones: the bridge, its script, health and metrics.
type AdminAuth struct {
	secret    []byte
	skipPaths map[string]bool
	log       *logger.Logger
}

// NewAdminAuth creates the middleware.
func NewAdminAuth(secret []byte, log *logger.Logger) *AdminAuth {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &AdminAuth{
		secret: secret,
		skipPaths: map[string]bool{
			"/healthz":            true,
			"/metrics":            true,
			"/bridge":             true,
			"/bridge/provider.js": true,
		},
		log: log,
	}
}

// Handler wraps next.
func (a *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		claims, err := a.validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			a.log.WithError(err).WithField("path", r.URL.Path).Warn("operator token rejected")
			writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
			return
		}

		a.log.WithField("operator", claims.Operator).WithField("path", r.URL.Path).Debug("operator authenticated")
		next.ServeHTTP(w, r)
	})
}

func (a *AdminAuth) validate(raw string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	if claims.Operator == "" {
		return nil, errors.New("missing operator claim")
	}
	return claims, nil
}
