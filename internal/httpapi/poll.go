package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"blood-broadcast/internal/auth"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// PollLimiter throttles the polling surface per user and advertises the
// interval clients should poll at.
type PollLimiter struct {
	interval time.Duration
	limit    rate.Limit
	burst    int
	idle     time.Duration

	mu       sync.Mutex
	limiters map[string]*pollEntry
	lastGC   time.Time
	now      func() time.Time
}

type pollEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewPollLimiter(interval time.Duration, perSec float64, burst int) *PollLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &PollLimiter{
		interval: interval,
		limit:    rate.Limit(perSec),
		burst:    burst,
		idle:     10 * time.Minute,
		limiters: map[string]*pollEntry{},
		now:      time.Now,
	}
}

func (p *PollLimiter) allow(userID string) bool {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	if now.Sub(p.lastGC) > p.idle {
		for id, e := range p.limiters {
			if now.Sub(e.lastSeen) > p.idle {
				delete(p.limiters, id)
			}
		}
		p.lastGC = now
	}

	e, ok := p.limiters[userID]
	if !ok {
		e = &pollEntry{lim: rate.NewLimiter(p.limit, p.burst)}
		p.limiters[userID] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// Middleware sets X-Poll-Interval on every response and answers 429 when a
// user polls faster than the limiter allows.
func (p *PollLimiter) Middleware() gin.HandlerFunc {
	secs := strconv.Itoa(max(1, int(p.interval/time.Second)))
	return func(c *gin.Context) {
		c.Header("X-Poll-Interval", secs)
		uid, _ := auth.UserID(c.Request.Context())
		if !p.allow(uid) {
			c.Header("Retry-After", secs)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "polling too fast"})
			return
		}
		c.Next()
	}
}
