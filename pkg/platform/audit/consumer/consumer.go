// Package consumer materializes audit events from Kafka into the
// queryable audit_events table.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "practicum/pkg/platform/audit"
	auditpg "practicum/pkg/platform/audit/store/postgres"
)

// Materializer stores a delivered event idempotently.
type Materializer interface {
	AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error
}

// Handler materializes one Kafka record. Undecodable records are logged and
// skipped so a poison message cannot block the partition.
type Handler struct {
	store  Materializer
	logger *slog.Logger
}

func NewHandler(store Materializer, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

func (h *Handler) Handle(ctx context.Context, rec *kgo.Record) error {
	eventID, err := uuid.Parse(string(rec.Key))
	if err != nil {
		h.logger.Warn("failed to parse audit event ID", "key", string(rec.Key), "error", err)
		return nil
	}

	var payload auditpg.Payload
	if err := json.Unmarshal(rec.Value, &payload); err != nil {
		h.logger.Warn("failed to unmarshal audit payload", "event_id", eventID, "error", err)
		return nil
	}
	event, err := payload.ToEvent()
	if err != nil {
		h.logger.Warn("invalid audit payload", "event_id", eventID, "error", err)
		return nil
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if err := h.store.AppendWithID(ctx, eventID, event); err != nil {
		h.logger.Error("failed to store audit event", "event_id", eventID, "action", event.Action, "error", err)
		return fmt.Errorf("store audit event: %w", err)
	}
	return nil
}

// Client is the subset of *kgo.Client used by Consumer.
type Client interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitUncommittedOffsets(ctx context.Context) error
}

// Consumer polls the audit topic and commits after each fully handled batch.
type Consumer struct {
	client  Client
	handler *Handler
	logger  *slog.Logger
}

func New(client Client, handler *Handler, logger *slog.Logger) *Consumer {
	return &Consumer{client: client, handler: handler, logger: logger}
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		for _, fe := range fetches.Errors() {
			c.logger.Error("kafka fetch error", "topic", fe.Topic, "partition", fe.Partition, "error", fe.Err)
		}

		var handleErr error
		fetches.EachRecord(func(rec *kgo.Record) {
			if handleErr != nil {
				return
			}
			handleErr = c.handler.Handle(ctx, rec)
		})
		if handleErr != nil {
			// Uncommitted records are redelivered after a rebalance or restart.
			continue
		}
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit audit offsets", "error", err)
		}
	}
}
