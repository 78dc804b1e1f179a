package sandbox

import (
	"context"

	"go.uber.org/zap"

	"github.com/neomorfeo/billcycle/internal/domain"
)

// Compile-time check: LogNotifier implements domain.Notifier.
var _ domain.Notifier = (*LogNotifier)(nil)

// LogNotifier writes every notification to the log instead of delivering it.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs through logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (n *LogNotifier) Dispatch(_ context.Context, action domain.Action, event domain.BillingEvent) error {
	if err := action.CheckVariant(); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("action_id", action.ID),
		zap.String("type", string(action.Type)),
		zap.String("subscription_id", event.SubscriptionID),
		zap.String("event_id", event.ID),
	}
	switch action.Type {
	case domain.ActionSendEmail:
		fields = append(fields, zap.String("template", action.Email.Template), zap.String("subject", action.Email.Subject))
	case domain.ActionSendNotification:
		fields = append(fields, zap.String("channel", action.Notification.Channel), zap.String("message", action.Notification.Message))
	case domain.ActionCreateTask:
		fields = append(fields, zap.String("title", action.Task.Title), zap.String("assignee", action.Task.Assignee))
	default:
		return &domain.ValidationError{Field: "type", Reason: "not a notification action"}
	}

	n.logger.Info("notification dispatched", fields...)
	return nil
}
