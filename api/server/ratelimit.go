package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"healthcoach/api/wire"
)

const rateLimitWindow = 60 * time.Second

// Progressive ban durations
var banDurations = []time.Duration{
	10 * time.Minute,
	1 * time.Hour,
	24 * time.Hour,
}

// rateLimiter keeps a sliding one-minute window of request times per client
// address. A client that exceeds the limit is banned, for longer on each
// repeat violation.
type rateLimiter struct {
	limit  int
	now    func() time.Time
	logger *zap.Logger

	mu          sync.Mutex
	requests    map[string][]time.Time
	bannedUntil map[string]time.Time
	banCounts   map[string]int
}

func newRateLimiter(perMinute int, logger *zap.Logger) *rateLimiter {
	return &rateLimiter{
		limit:       perMinute,
		now:         time.Now,
		logger:      logger,
		requests:    make(map[string][]time.Time),
		bannedUntil: make(map[string]time.Time),
		banCounts:   make(map[string]int),
	}
}

// allow records a request from addr and reports whether it may proceed. When
// it may not, the returned duration is how long the client stays banned.
func (l *rateLimiter) allow(addr string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	if until, ok := l.bannedUntil[addr]; ok {
		if now.Before(until) {
			return false, until.Sub(now)
		}
		delete(l.bannedUntil, addr)
	}

	times := l.requests[addr]
	recent := times[:0]
	for _, t := range times {
		if now.Sub(t) < rateLimitWindow {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	l.requests[addr] = recent
	if len(recent) <= l.limit {
		return true, 0
	}

	l.banCounts[addr]++
	n := min(l.banCounts[addr], len(banDurations))
	dur := banDurations[n-1]
	l.bannedUntil[addr] = now.Add(dur)
	delete(l.requests, addr)
	l.logger.Warn("client rate limited",
		zap.String("addr", addr),
		zap.Int("violation", l.banCounts[addr]),
		zap.Duration("ban", dur))
	return false, dur
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			addr = r.RemoteAddr
		}
		if ok, retry := l.allow(addr); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, wire.ReasonRateLimited, fmt.Errorf("rate limit of %d requests per minute exceeded", l.limit))
			return
		}
		next.ServeHTTP(w, r)
	})
}
