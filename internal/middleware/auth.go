package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"vigil-backend/internal/models"
)

type contextKey string

const PrincipalKey contextKey = "principal"

var (
	ErrMissingClaim = errors.New("missing claim")
	ErrBadClaim     = errors.New("malformed claim")
)

type JWTAuth struct {
	Secret []byte
}

func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{Secret: []byte(secret)}
}

// GenerateAccessToken creates a JWT with 15 minute expiry
func (j *JWTAuth) GenerateAccessToken(p models.Principal) (string, error) {
	claims := jwt.MapClaims{
		"user_id": p.UserID.String(),
		"role":    p.Role,
		"exp":     time.Now().Add(15 * time.Minute).Unix(),
		"iat":     time.Now().Unix(),
	}
	if p.OrganizationID != nil {
		claims["organization_id"] = p.OrganizationID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// ParsePrincipal verifies a raw token and returns the caller it names.
func (j *JWTAuth) ParsePrincipal(tokenStr string) (models.Principal, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.Secret, nil
	})
	if err != nil {
		return models.Principal{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.Principal{}, jwt.ErrTokenInvalidClaims
	}

	userIDStr, ok := claims["user_id"].(string)
	if !ok {
		return models.Principal{}, ErrMissingClaim
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return models.Principal{}, ErrBadClaim
	}

	p := models.Principal{UserID: userID, Role: models.RoleStudent}
	if role, ok := claims["role"].(string); ok && role != "" {
		p.Role = role
	}
	if orgStr, ok := claims["organization_id"].(string); ok && orgStr != "" {
		orgID, err := uuid.Parse(orgStr)
		if err != nil {
			return models.Principal{}, ErrBadClaim
		}
		p.OrganizationID = &orgID
	}
	return p, nil
}

// Middleware validates JWT and attaches the principal to context
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing authorization header", r)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format", r)
			return
		}

		p, err := j.ParsePrincipal(parts[1])
		if err != nil {
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired", r)
			case errors.Is(err, ErrMissingClaim), errors.Is(err, ErrBadClaim):
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token claims", r)
			default:
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", r)
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// GetPrincipal extracts the caller from request context
func GetPrincipal(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(models.Principal)
	return p, ok
}

// GetUserID extracts the caller's user id from request context
func GetUserID(ctx context.Context) uuid.UUID {
	p, _ := GetPrincipal(ctx)
	return p.UserID
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": GetRequestID(r.Context()),
		},
	})
}
