package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/studyhubng/StudyHub/internal/pkg/cache"
	"github.com/studyhubng/StudyHub/internal/pkg/database"
)

const telemetryKey = "engine:counters:daily"

// Metric names flushed into engine_stats.
const (
	MetricUsageAllowed        = "usage_allowed"
	MetricUsageDenied         = "usage_denied"
	MetricWebhookAccepted     = "webhook_accepted"
	MetricWebhookDuplicate    = "webhook_duplicate"
	MetricWebhookRejected     = "webhook_rejected"
	MetricCheckoutOpened      = "checkout_opened"
	MetricSubscriptionExpired = "subscription_expired"
)

// Add increments a daily telemetry counter in Redis. The field encodes the
// UTC date so the flush lands on the right engine_stats row.
func Add(metric string, delta int64) error {
	if delta == 0 {
		return nil
	}
	ctx := context.Background()
	field := time.Now().UTC().Format("2006-01-02") + "|" + metric
	return cache.GetClient().HIncrBy(ctx, telemetryKey, field, delta).Err()
}

// Incr is Add with a delta of one.
func Incr(metric string) error {
	return Add(metric, 1)
}

// Flush drains the pending telemetry hash into engine_stats.
func Flush() error {
	return flushHashToStats(telemetryKey)
}

// flushHashToStats drains a Redis hash atomically and applies batched upserts
// to engine_stats. Uses RENAME to a temporary key for atomic drain without
// losing in-flight increments.
func flushHashToStats(redisKey string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// Missing key means nothing accumulated since the last flush.
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	type row struct {
		date   string
		metric string
		inc    int64
	}
	rows := make([]row, 0, len(data))
	for field, v := range data {
		date, metric, ok := strings.Cut(field, "|")
		if !ok || date == "" || metric == "" {
			continue
		}
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		rows = append(rows, row{date: date, metric: metric, inc: inc})
	}
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].date != rows[j].date {
			return rows[i].date < rows[j].date
		}
		return rows[i].metric < rows[j].metric
	})

	// One multi-row upsert; the unique (date, metric) key turns replays of
	// the same batch into additive updates rather than errors.
	var builder strings.Builder
	args := make([]interface{}, 0, len(rows)*3)
	builder.WriteString("INSERT INTO engine_stats (date, metric, count) VALUES ")
	for i, r := range rows {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("(?,?,?)")
		args = append(args, r.date, r.metric, r.inc)
	}
	builder.WriteString(" ON DUPLICATE KEY UPDATE count = count + VALUES(count)")

	db := database.GetDB()
	if err := db.Exec(builder.String(), args...).Error; err != nil {
		return err
	}
	return nil
}
