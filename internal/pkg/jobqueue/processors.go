package jobqueue

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	metrics "github.com/studyhubng/StudyHub/internal/pkg/metrics/counter"
)

// registerBillingHandlers binds the subscription background jobs to the queue.
func registerBillingHandlers(q *Queue, billing BillingService) {
	if billing == nil {
		return
	}
	q.RegisterHandler(JobTypeExpirySweep, func(ctx context.Context, job *Job) error {
		return processExpirySweepJob(ctx, billing, job)
	})
	q.RegisterHandler(JobTypeWebhookRetry, func(ctx context.Context, job *Job) error {
		return processWebhookRetryJob(ctx, billing, job)
	})
}

func processExpirySweepJob(ctx context.Context, billing BillingService, job *Job) error {
	payload, err := ExpirySweepJobPayloadFromMap(job.Payload)
	if err != nil {
		return err
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	expired, err := billing.SweepExpirations(ctx, asOf)
	if err != nil {
		return err
	}
	if expired > 0 {
		if merr := metrics.Add(metrics.MetricSubscriptionExpired, int64(expired)); merr != nil {
			log.Warnf("[JobQueue] Telemetry update failed after sweep: %v", merr)
		}
	}
	return nil
}

func processWebhookRetryJob(ctx context.Context, billing BillingService, job *Job) error {
	payload, err := WebhookRetryJobPayloadFromMap(job.Payload)
	if err != nil {
		return err
	}
	olderThan := time.Duration(payload.OlderThanMinutes) * time.Minute
	if olderThan <= 0 {
		olderThan = 5 * time.Minute
	}
	limit := payload.Limit
	if limit <= 0 {
		limit = 100
	}

	processed, err := billing.RetryUnprocessedWebhooks(ctx, olderThan, limit)
	if err != nil {
		return err
	}
	if processed > 0 {
		log.Infof("[JobQueue] Webhook retry recovered %d deliveries", processed)
	}
	return nil
}
