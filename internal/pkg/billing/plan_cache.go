package billing

import (
	"fmt"
	"time"

	"github.com/studyhubng/StudyHub/internal/pkg/cache"
)

const planCacheTTL = 60 * time.Second

// PlanCache is a short-TTL lookaside for plan-name reads on the hot request
// path. Every lifecycle transition invalidates the user's entry.
type PlanCache interface {
	Get(key string) (string, bool)
	Set(key string, value string, ttl time.Duration)
	Delete(key string)
}

func planCacheKey(userID uint) string {
	return fmt.Sprintf("billing:plan:%d", userID)
}

type redisPlanCache struct{}

// NewRedisPlanCache returns a PlanCache over the shared Redis client.
func NewRedisPlanCache() PlanCache {
	return redisPlanCache{}
}

func (redisPlanCache) Get(key string) (string, bool) {
	val, err := cache.Get(key)
	if err != nil {
		return "", false
	}
	return val, true
}

func (redisPlanCache) Set(key, value string, ttl time.Duration) {
	_ = cache.Set(key, value, ttl)
}

func (redisPlanCache) Delete(key string) {
	_ = cache.Delete(key)
}
