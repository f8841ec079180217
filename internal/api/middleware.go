package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vin-jex/captain-dispatch/internal/observability"
)

const requestIDHeader = "X-Request-ID"

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestID := request.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		writer.Header().Set(requestIDHeader, requestID)

		ctx := observability.WithRequestID(request.Context(), requestID)
		ctx = observability.WithLogger(ctx, s.logger.With("request_id", requestID))

		next.ServeHTTP(writer, request.WithContext(ctx))
	})
}

func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		started := time.Now()
		recorder := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}

		next.ServeHTTP(recorder, request)

		observability.LoggerFromContext(request.Context()).Debug(
			"request served",
			"method", request.Method,
			"path", request.URL.Path,
			"status", recorder.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the agent event stream upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}

	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

const (
	visitorIdleTimeout   = 3 * time.Minute
	visitorPruneInterval = time.Minute
)

// rateLimiter keeps one token bucket per remote address.
type rateLimiter struct {
	mu         sync.Mutex
	visitors   map[string]*visitor
	limit      rate.Limit
	burst      int
	lastPruned time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(rps, burst int) *rateLimiter {
	if burst < 1 {
		burst = rps
	}

	return &rateLimiter{
		visitors:   make(map[string]*visitor),
		limit:      rate.Limit(rps),
		burst:      burst,
		lastPruned: time.Now(),
	}
}

func (rl *rateLimiter) visitor(address string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Idle visitors are pruned inline instead of from a background goroutine.
	if now.Sub(rl.lastPruned) > visitorPruneInterval {
		for key, v := range rl.visitors {
			if now.Sub(v.lastSeen) > visitorIdleTimeout {
				delete(rl.visitors, key)
			}
		}
		rl.lastPruned = now
	}

	v, ok := rl.visitors[address]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[address] = v
	}

	v.lastSeen = now
	return v.limiter
}

func (rl *rateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		address, _, err := net.SplitHostPort(request.RemoteAddr)
		if err != nil {
			address = strings.Trim(request.RemoteAddr, "[]")
		}

		reservation := rl.visitor(address, time.Now()).Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()

			writer.Header().Set("Retry-After", strconv.Itoa(int((delay+time.Second-1)/time.Second)))
			http.Error(writer, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(writer, request)
	})
}
