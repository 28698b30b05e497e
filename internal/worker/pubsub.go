package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Job types accepted over Pub/Sub.
const (
	JobReportExport = "report_export"
	JobHealthCheck  = "health_check"
)

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	jobs             *JobRunner
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	ExportJob        *ExportJob
	Logger           zerolog.Logger
}

// JobMessage is a job request message.
type JobMessage struct {
	JobType string `json:"job_type"`

	// Kinds restricts a report_export run to the given report kinds.
	Kinds []string `json:"kinds,omitempty"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 2
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		jobs:             NewJobRunner(cfg.ExportJob, cfg.Logger),
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := h.logger.With().
			Str("message_id", msg.ID).
			Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
			Logger()

		if h.jobs.Handle(ctx, msg.Data, logger) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// JobRunner dispatches decoded job messages.
type JobRunner struct {
	export *ExportJob
	logger zerolog.Logger
}

// NewJobRunner creates a job runner over the export job.
func NewJobRunner(export *ExportJob, logger zerolog.Logger) *JobRunner {
	return &JobRunner{export: export, logger: logger}
}

// Handle runs the job in data and reports whether the message should be
// acknowledged. Failed jobs are not acknowledged so they are redelivered.
func (r *JobRunner) Handle(ctx context.Context, data []byte, logger zerolog.Logger) bool {
	start := time.Now()

	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		return false
	}

	var err error
	switch msg.JobType {
	case JobReportExport:
		err = r.runExport(ctx, msg)
	case JobHealthCheck:
		err = r.export.Ping(ctx)
	default:
		logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return true
	}

	if err != nil {
		logger.Error().Err(err).Str("job_type", msg.JobType).Msg("job failed")
		return false
	}

	logger.Info().
		Str("job_type", msg.JobType).
		Dur("duration", time.Since(start)).
		Msg("job completed successfully")
	return true
}

func (r *JobRunner) runExport(ctx context.Context, msg JobMessage) error {
	job := r.export
	if len(msg.Kinds) > 0 {
		cfg := job.config
		cfg.Kinds = msg.Kinds
		job = NewExportJob(ExportJobConfig{
			Config:     cfg,
			Repository: job.repo,
			Peaks:      job.peaks,
			Logger:     job.logger,
			Clock:      job.now,
		})
	}

	result := job.Run(ctx)
	if result.Failed > 0 {
		return fmt.Errorf("report export: %d of %d reports failed", result.Failed, result.Failed+result.Successful)
	}
	return nil
}
