package statistics

import (
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/studyhubng/StudyHub/app/models"
	"github.com/studyhubng/StudyHub/internal/pkg/cache"
	"github.com/studyhubng/StudyHub/internal/pkg/database"
)

const (
	CacheKeyUsers       = "statistics:users:total"
	CacheKeyActiveSubs  = "statistics:subscriptions:active"
	CacheKeyPastDueSubs = "statistics:subscriptions:past_due"
	CacheKeyRevenue     = "statistics:revenue:total_kobo"
	CacheExpiration     = 30 * time.Minute
)

// PlatformStats is the admin dashboard aggregate.
type PlatformStats struct {
	TotalUsers           int   `json:"total_users"`
	ActiveSubscriptions  int   `json:"active_subscriptions"`
	PastDueSubscriptions int   `json:"past_due_subscriptions"`
	TotalRevenueKobo     int64 `json:"total_revenue_kobo"`
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache reports whether the cached aggregates are stale.
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded refreshes the cached aggregates when they are stale.
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("statistics cache refresh failed: %v", err)
		} else {
			lastCacheUpdate = time.Now()
		}
	}
}

// ResetCacheUpdateTimer forces the next read to refresh.
func ResetCacheUpdateTimer() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	lastCacheUpdate = time.Time{}
}

// UpdateStatisticsCache recomputes every aggregate and stores it in Redis.
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		return err
	}

	var activeSubs int64
	if err := db.Model(&models.Subscription{}).
		Where("status = ?", models.SubscriptionStatusActive).
		Count(&activeSubs).Error; err != nil {
		return err
	}

	var pastDueSubs int64
	if err := db.Model(&models.Subscription{}).
		Where("status = ?", models.SubscriptionStatusPastDue).
		Count(&pastDueSubs).Error; err != nil {
		return err
	}

	var revenue int64
	if err := db.Model(&models.PaymentTransaction{}).
		Where("status = ?", models.PaymentStatusSuccess).
		Select("COALESCE(SUM(amount_kobo), 0)").
		Scan(&revenue).Error; err != nil {
		return err
	}

	for key, val := range map[string]int64{
		CacheKeyUsers:       totalUsers,
		CacheKeyActiveSubs:  activeSubs,
		CacheKeyPastDueSubs: pastDueSubs,
		CacheKeyRevenue:     revenue,
	} {
		if err := cache.Set(key, strconv.FormatInt(val, 10), CacheExpiration); err != nil {
			return err
		}
	}

	return nil
}

func cachedInt(key string) int64 {
	val, err := cache.Get(key)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// GetStatisticsData returns the aggregates, refreshing the cache when stale.
func GetStatisticsData() PlatformStats {
	UpdateCacheIfNeeded()

	return PlatformStats{
		TotalUsers:           int(cachedInt(CacheKeyUsers)),
		ActiveSubscriptions:  int(cachedInt(CacheKeyActiveSubs)),
		PastDueSubscriptions: int(cachedInt(CacheKeyPastDueSubs)),
		TotalRevenueKobo:     cachedInt(CacheKeyRevenue),
	}
}
