package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/events"
)

const (
	notificationQueueSize = 256
	webhookTimeout        = 5 * time.Second
)

// NotificationService forwards domain events to the configured webhook. Events
// are queued by the dispatcher handler and delivered by Run, so publishers never
// wait on the network.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
	client     *http.Client
	queue      chan events.Event
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		client:     &http.Client{Timeout: webhookTimeout},
		queue:      make(chan events.Event, notificationQueueSize),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.enqueue)
	}
}

func (n *NotificationService) enqueue(_ context.Context, event events.Event) error {
	select {
	case n.queue <- event:
		return nil
	default:
		n.logger.Warn("notification queue full; dropping event",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID))
		return nil
	}
}

// Run delivers queued events until ctx ends.
func (n *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-n.queue:
			n.deliver(ctx, event)
		}
	}
}

func (n *NotificationService) deliver(ctx context.Context, event events.Event) {
	n.logger.Info(string(event.Type),
		zap.String("ticket_id", event.TicketID),
		zap.String("actor_id", event.Actor.UserID),
		zap.Any("payload", event.Payload))
	if err := n.sendWebhook(ctx, event); err != nil {
		n.logger.Warn("webhook delivery failed",
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func (n *NotificationService) sendWebhook(ctx context.Context, event events.Event) error {
	url := strings.TrimSpace(n.cfg.WebhookURL)
	if url == "" {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Helpdesk-Event", string(event.Type))
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
	return nil
}
