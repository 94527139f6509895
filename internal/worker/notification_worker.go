package worker

import (
	"context"

	"github.com/spec-kit/helpdesk/internal/service"
)

// StartNotificationWorker registers notification handlers and starts delivery.
// Delivery stops when ctx ends.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
	go notificationService.Run(ctx)
}
