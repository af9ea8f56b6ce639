package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/studyhubng/StudyHub/internal/pkg/env"
	metrics "github.com/studyhubng/StudyHub/internal/pkg/metrics/counter"
)

// BillingService is the slice of the billing layer the background jobs need.
type BillingService interface {
	SweepExpirations(ctx context.Context, now time.Time) (int, error)
	RetryUnprocessedWebhooks(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// Manager manages the global job queue and background tasks
type Manager struct {
	queue              *Queue
	billing            BillingService
	sweepTicker        *time.Ticker
	webhookRetryTicker *time.Ticker
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := env.GetEnvInt("JOBQUEUE_WORKER_COUNT", 3)

		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// SetBillingService wires the billing layer in before Start. The sweep and
// webhook-retry tickers stay off without it.
func (m *Manager) SetBillingService(b BillingService) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.billing = b
	registerBillingHandlers(m.queue, b)
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	if m.billing != nil {
		sweepInterval := time.Duration(env.GetEnvInt("SWEEP_INTERVAL_MINUTES", 15)) * time.Minute
		m.sweepTicker = time.NewTicker(sweepInterval)
		m.wg.Add(1)
		go m.sweepWorker(sweepInterval)

		retryInterval := time.Duration(env.GetEnvInt("WEBHOOK_RETRY_INTERVAL_MINUTES", 5)) * time.Minute
		m.webhookRetryTicker = time.NewTicker(retryInterval)
		m.wg.Add(1)
		go m.webhookRetryWorker(retryInterval)
	} else {
		log.Warn("[JobQueue Manager] No billing service wired, sweep and webhook retry tickers disabled")
	}

	// Start counter flush worker (Redis -> DB) every 5 seconds
	m.counterFlushTicker = time.NewTicker(5 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.webhookRetryTicker != nil {
		m.webhookRetryTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// sweepWorker periodically enqueues an expiry sweep over lapsed subscriptions.
// The sweep itself closes each row with a conditional update, so overlapping
// runs from several nodes are safe.
func (m *Manager) sweepWorker(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started expiry sweep worker (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Expiry sweep worker stopping")
			return
		case <-m.sweepTicker.C:
			payload := ExpirySweepJobPayload{AsOf: time.Now().UTC()}
			if _, err := m.queue.EnqueueJob(JobTypeExpirySweep, payload.ToMap()); err != nil {
				log.Errorf("[JobQueue Manager] Failed to enqueue expiry sweep: %v", err)
			}
		}
	}
}

// webhookRetryWorker periodically enqueues a retry pass over webhook inbox
// rows that were inserted but never processed.
func (m *Manager) webhookRetryWorker(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started webhook retry worker (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Webhook retry worker stopping")
			return
		case <-m.webhookRetryTicker.C:
			payload := WebhookRetryJobPayload{OlderThanMinutes: 5, Limit: 100}
			if _, err := m.queue.EnqueueJob(JobTypeWebhookRetry, payload.ToMap()); err != nil {
				log.Errorf("[JobQueue Manager] Failed to enqueue webhook retry: %v", err)
			}
		}
	}
}

// counterFlushWorker periodically flushes telemetry counters from Redis to DB
func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := metrics.Flush(); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunSweepOnce exposes a manual trigger for a single expiry sweep (admin use).
func (m *Manager) RunSweepOnce(ctx context.Context) (int, error) {
	m.mu.Lock()
	b := m.billing
	m.mu.Unlock()
	if b == nil {
		return 0, nil
	}
	return b.SweepExpirations(ctx, time.Now().UTC())
}
