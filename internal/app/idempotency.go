package app

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/payment"
)

const (
	idempotencyKeyHeader      = "Idempotency-Key"
	idempotencyReplayedHeader = "Idempotent-Replayed"
	defaultIdempotencyTTL     = 24 * time.Hour
)

// idempotencyGuard повторяет сохранённый ответ на запрос с тем же Idempotency-Key.
// Ключ действует в пределах сессии оформления; запрос без заголовка проходит как есть.
type idempotencyGuard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	cookie string
	now    func() time.Time
	logger *log.Entry
}

func newIdempotencyGuard(repo domain.IdempotencyRepository, ttl time.Duration, cookie string, logger *log.Entry) *idempotencyGuard {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &idempotencyGuard{repo: repo, ttl: ttl, cookie: cookie, now: time.Now, logger: logger}
}

func (g *idempotencyGuard) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
		if g == nil || g.repo == nil || key == "" {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		key = g.scope(r) + ":" + key
		record, err := g.repo.CreateProcessing(r.Context(), key, requestHash(r, body), g.now().UTC().Add(g.ttl))
		if err != nil {
			g.replay(w, r, err, record)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		var captured bytes.Buffer
		ww.Tee(&captured)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ctx := context.WithoutCancel(r.Context())
		if status >= http.StatusInternalServerError {
			err = g.repo.MarkFailed(ctx, key, captured.Bytes(), status)
		} else {
			err = g.repo.MarkDone(ctx, key, captured.Bytes(), status)
		}
		if err != nil {
			g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
		}
	})
}

func (g *idempotencyGuard) replay(w http.ResponseWriter, r *http.Request, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "idempotency key is already used with a different request"})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if record.HTTPStatus == 0 {
				record.HTTPStatus = http.StatusInternalServerError
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(idempotencyReplayedHeader, "true")
			w.WriteHeader(record.HTTPStatus)
			_, _ = w.Write(record.ResponseBody)
		case domain.IdempotencyStatusProcessing:
			respondJSON(w, http.StatusConflict, errorResponse{Error: "request with the same idempotency key is already processing"})
		default:
			respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "unknown idempotency record status"})
		}
	default:
		g.logger.WithError(createErr).WithField("path", r.URL.Path).Warn("failed to create idempotency record")
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to initialize idempotent request"})
	}
}

// scope: id сессии из заголовка, cookie или callback URL.
func (g *idempotencyGuard) scope(r *http.Request) string {
	if id := r.Header.Get(sessionHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(g.cookie); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get(payment.SessionParam)
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{':'})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{'?'})
	h.Write([]byte(r.URL.RawQuery))
	h.Write([]byte{':'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
