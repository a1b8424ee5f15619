package channels

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedChats caps the limiter table so rotating chat IDs cannot
// exhaust memory.
const maxTrackedChats = 4096

// SendLimiter throttles outbound deliveries per chat. Telegram allows
// roughly one message per second per chat; other transports get the
// same discipline for free.
type SendLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewSendLimiter(perSecond float64, burst int) *SendLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &SendLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the chat may receive another message or the context
// ends.
func (l *SendLimiter) Wait(ctx context.Context, chatKey string) error {
	l.mu.Lock()
	lim, ok := l.limiters[chatKey]
	if !ok {
		if len(l.limiters) >= maxTrackedChats {
			for k := range l.limiters {
				delete(l.limiters, k)
				break
			}
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[chatKey] = lim
	}
	l.mu.Unlock()

	return lim.Wait(ctx)
}
