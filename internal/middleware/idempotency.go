package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/cassiomorais/printqueue/internal/infrastructure/redis"
	"github.com/rs/zerolog"
)

const maxIdempotencyBodySize = 1 << 20

// IdempotencyKeyHeader names the client supplied request key.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotencyStore persists responses by key.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (*redis.CachedResponse, error)
	Complete(ctx context.Context, key string, resp redis.CachedResponse) error
	Abandon(ctx context.Context, key string) error
}

// Idempotency replays the stored response when a user repeats a request
// with the same Idempotency-Key. Keys are scoped per user. Server errors are
// not stored so the client can retry them.
func Idempotency(store IdempotencyStore, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if userID, ok := GetUserID(r.Context()); ok {
				key = userID + ":" + key
			}

			cached, err := store.Reserve(r.Context(), key)
			switch {
			case errors.Is(err, redis.ErrRequestInFlight):
				writeError(w, http.StatusConflict, "a request with this idempotency key is in progress", "idempotency_in_flight")
				return
			case err != nil:
				logger.Warn().Err(err).Msg("Idempotency store unavailable, serving request without replay protection")
				next.ServeHTTP(w, r)
				return
			case cached != nil:
				w.Header().Set("Content-Type", cached.ContentType)
				w.Header().Set("X-Idempotency-Replayed", "true")
				w.WriteHeader(cached.Status)
				_, _ = w.Write([]byte(cached.Body))
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The request is done; a cancelled client context must not skip this.
			ctx := context.WithoutCancel(r.Context())
			if rec.statusCode >= http.StatusInternalServerError || rec.bodyTruncated {
				if err := store.Abandon(ctx, key); err != nil {
					logger.Warn().Err(err).Msg("Failed to release idempotency key")
				}
				return
			}
			err = store.Complete(ctx, key, redis.CachedResponse{
				Status:      rec.statusCode,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.String(),
			})
			if err != nil {
				logger.Warn().Err(err).Msg("Failed to store idempotent response")
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
