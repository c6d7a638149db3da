package dispatcher

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	// maxTrackedSubjects triggers a sweep of idle limiters.
	maxTrackedSubjects = 10000
	limiterIdleTTL     = 10 * time.Minute
)

type subjectLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per session subject.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	subjects map[string]*subjectLimiter
	now      func() time.Time
}

// NewRateLimiter allows perMinute requests per subject with the given burst.
// A non-positive perMinute disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		subjects: make(map[string]*subjectLimiter),
		now:      time.Now,
	}
}

// Allow reports whether subject may submit now. A nil limiter allows all.
func (r *RateLimiter) Allow(subject string) bool {
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.subjects[subject]
	if !ok {
		if len(r.subjects) >= maxTrackedSubjects {
			r.sweep(now)
		}
		entry = &subjectLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.subjects[subject] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (r *RateLimiter) sweep(now time.Time) {
	for subject, entry := range r.subjects {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(r.subjects, subject)
		}
	}
}

// RateLimitMiddleware enforces r per verified session subject. It must run
// after SessionMiddleware.
func RateLimitMiddleware(r *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.GetString(subjectKey)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": MsgTooManyRequests})
			return
		}
		c.Next()
	}
}
