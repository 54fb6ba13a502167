package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"qms/campus-queue/internal/hub"
	"qms/campus-queue/internal/store"
)

const Consumer = "notify"

type Source interface {
	ListOutboxEvents(ctx context.Context, after store.OutboxOffset, limit int) ([]store.OutboxEvent, error)
	GetOffset(ctx context.Context, consumer string) (store.OutboxOffset, error)
	UpdateOffset(ctx context.Context, consumer string, offset store.OutboxOffset) error
}

type Broadcaster interface {
	Publish(eventType string, value interface{}, meta hub.Subscription, at time.Time) (int, error)
}

type Config struct {
	BatchSize int
	Provider  Provider
	// Hub, when set, receives every ticket event for live dashboards.
	Hub    Broadcaster
	Logger *zap.Logger
}

// Worker drains the outbox: every ticket event is pushed to realtime
// subscribers and the ones a student cares about are sent as messages.
type Worker struct {
	source    Source
	batchSize int
	provider  Provider
	hub       Broadcaster
	logger    *zap.Logger
}

func New(source Source, cfg Config) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Provider == nil {
		cfg.Provider = noopProvider{}
	}
	return &Worker{
		source:    source,
		batchSize: cfg.BatchSize,
		provider:  cfg.Provider,
		hub:       cfg.Hub,
		logger:    cfg.Logger,
	}
}

// Run processes one batch and returns how many events it consumed.
func (w *Worker) Run(ctx context.Context) (int, error) {
	offset, err := w.source.GetOffset(ctx, Consumer)
	if err != nil {
		return 0, fmt.Errorf("load offset: %w", err)
	}

	events, err := w.source.ListOutboxEvents(ctx, offset, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list outbox: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			w.logger.Warn("notify process error", zap.String("event_id", event.EventID), zap.String("type", event.Type), zap.Error(err))
		}
		offset = store.OutboxOffset{LastEventTime: event.CreatedAt, LastEventID: event.EventID}
	}

	if err := w.source.UpdateOffset(ctx, Consumer, offset); err != nil {
		return len(events), fmt.Errorf("update offset: %w", err)
	}
	return len(events), nil
}

func (w *Worker) processEvent(ctx context.Context, event store.OutboxEvent) error {
	var payload store.TicketEventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return err
	}

	var errs []error
	if w.hub != nil {
		meta := hub.Subscription{DepartmentID: payload.DepartmentID, TicketID: payload.TicketID}
		if _, err := w.hub.Publish(event.Type, event.Payload, meta, event.CreatedAt); err != nil {
			errs = append(errs, err)
		}
	}

	template := templateForEvent(event.Type)
	if template == "" || payload.StudentID == "" {
		return errors.Join(errs...)
	}
	message := renderTemplate(template, payload)
	if err := w.provider.Send(ctx, message, payload.StudentID); err != nil {
		errs = append(errs, fmt.Errorf("send %s: %w", event.Type, err))
	}
	return errors.Join(errs...)
}

func templateForEvent(eventType string) string {
	switch eventType {
	case store.EventTicketCreated:
		return "Ticket {ticket_number} issued for {department_name}. You are number {queue_position} in line."
	case store.EventTicketStarted:
		return "It's your turn! Ticket {ticket_number}, please proceed to {department_name}."
	case store.EventTicketCancelled:
		return "Ticket {ticket_number} for {department_name} was cancelled."
	default:
		return ""
	}
}

func renderTemplate(template string, payload store.TicketEventPayload) string {
	position := ""
	if payload.QueuePosition > 0 {
		position = strconv.Itoa(payload.QueuePosition)
	}
	return strings.NewReplacer(
		"{ticket_number}", payload.TicketNumber,
		"{department_name}", payload.DepartmentName,
		"{queue_position}", position,
	).Replace(template)
}

func Start(ctx context.Context, interval time.Duration, w *Worker) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Warn("notify worker error", zap.Error(err))
			}
		}
	}
}
