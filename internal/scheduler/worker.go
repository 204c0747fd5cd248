package scheduler

import (
	"context"
	"fmt"

	exportsservice "estatecrm_backend/internal/exports/service"
	"estatecrm_backend/platform/cache"
	"estatecrm_backend/platform/config"
	"estatecrm_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Worker consumes background tasks: analytics exports and lead score
// recalculations.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	exports *exportsservice.Service
	store   cache.Store
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, exports *exportsservice.Service, store cache.Store, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL)
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		exports: exports,
		store:   store,
		log:     log,
	}

	mux.HandleFunc(TaskAnalyticsExport, w.handleAnalyticsExport)
	mux.HandleFunc(TaskScoreRecalculate, w.handleScoreRecalculate)

	return w, nil
}

func (w *Worker) handleAnalyticsExport(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAnalyticsExportPayload(task)
	if err != nil {
		return err
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return err
	}

	return w.exports.RunExport(ctx, jobID)
}

// handleScoreRecalculate drops the cached score profile so the next read
// recomputes against current attributes and funnel state.
func (w *Worker) handleScoreRecalculate(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseScoreRecalculatePayload(task)
	if err != nil {
		return err
	}

	leadID, err := uuid.Parse(payload.LeadID)
	if err != nil {
		return err
	}

	if w.store == nil {
		return nil
	}
	return w.store.Invalidate(ctx, cache.ScoreKey(leadID.String()))
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
