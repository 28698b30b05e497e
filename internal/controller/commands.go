package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/junctionflow/junctionflow/internal/junction"
)

// Operator commands accepted by ApplyCommand.
const (
	CommandManualOverride = "manual_override"
	CommandClearOverride  = "clear_override"
)

// CommandMessage is an operator command delivered over Pub/Sub.
type CommandMessage struct {
	Command string `json:"command"`
	Lane    string `json:"lane,omitempty"`
}

// ApplyCommand executes an operator command at now.
func (c *Controller) ApplyCommand(msg CommandMessage, now time.Time) error {
	switch msg.Command {
	case CommandManualOverride:
		lane, err := junction.ParseLaneID(msg.Lane)
		if err != nil {
			return err
		}
		c.Override(lane, now)
		return nil
	case CommandClearOverride:
		c.ClearOverride()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, msg.Command)
	}
}

// CommandHandler receives operator commands from a Pub/Sub subscription.
type CommandHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	controller       *Controller
	logger           zerolog.Logger
}

// CommandHandlerConfig holds configuration for the command handler.
type CommandHandlerConfig struct {
	ProjectID        string
	SubscriptionName string
	Controller       *Controller
	Logger           zerolog.Logger
}

// NewCommandHandler creates a command handler.
func NewCommandHandler(ctx context.Context, cfg CommandHandlerConfig) (*CommandHandler, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("%w: command handler needs a controller", ErrNotConfigured)
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1

	return &CommandHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		controller:       cfg.Controller,
		logger:           cfg.Logger,
	}, nil
}

// Start receives commands until ctx ends.
func (h *CommandHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting command handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if HandleCommand(h.controller, msg.Data, time.Now(), h.logger) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Close closes the Pub/Sub client.
func (h *CommandHandler) Close() error {
	return h.client.Close()
}

// HandleCommand decodes and applies one command payload. It reports whether the
// message should be acknowledged. Commands that can never succeed are
// acknowledged so they are not redelivered.
func HandleCommand(c *Controller, data []byte, now time.Time, logger zerolog.Logger) bool {
	var msg CommandMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Error().Err(err).Msg("failed to parse command")
		return true
	}

	err := c.ApplyCommand(msg, now)
	switch {
	case err == nil:
		logger.Info().Str("command", msg.Command).Str("lane", msg.Lane).Msg("command applied")
		return true
	case errors.Is(err, ErrUnknownCommand), errors.Is(err, junction.ErrUnknownLane):
		logger.Warn().Err(err).Str("command", msg.Command).Msg("rejected command")
		return true
	default:
		logger.Error().Err(err).Str("command", msg.Command).Msg("command failed")
		return false
	}
}
