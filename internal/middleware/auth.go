package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/domain/printer"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	PrinterIDKey contextKey = "printer_id"
)

// PrinterKeyHeader carries the printer credential issued at registration.
const PrinterKeyHeader = "X-Printer-Key"

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// IssueToken signs a user token with the shared secret.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RequireAuth admits requests bearing a valid user token.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header", "auth_required")
				return
			}

			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid authorization scheme", "auth_invalid_scheme")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method")
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid || claims.UserID == "" {
				writeError(w, http.StatusUnauthorized, "invalid token", "auth_invalid")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrinterAuthenticator resolves a printer key to its printer.
type PrinterAuthenticator interface {
	Execute(ctx context.Context, key string) (printer.Printer, error)
}

// RequirePrinterKey admits requests from registered printers and stores the
// printer ID in the request context.
func RequirePrinterKey(auth PrinterAuthenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(PrinterKeyHeader)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "missing printer key", "printer_auth_required")
				return
			}

			p, err := auth.Execute(r.Context(), key)
			switch {
			case errors.Is(err, domainErrors.ErrInvalidCredential):
				writeError(w, http.StatusUnauthorized, "invalid printer key", "printer_auth_invalid")
				return
			case err != nil:
				writeError(w, http.StatusServiceUnavailable, "printer authentication unavailable", "printer_auth_unavailable")
				return
			}

			ctx := context.WithValue(r.Context(), PrinterIDKey, p.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

func GetPrinterID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(PrinterIDKey).(uuid.UUID)
	return id, ok
}
