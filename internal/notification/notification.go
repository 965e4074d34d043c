package notification

import (
    "context"
    "log/slog"
)

const (
    // KindCardSpend indicates a committed spend on a card.
    KindCardSpend = "card_spend"
    // KindCardTopUp indicates a committed top-up on a card.
    KindCardTopUp = "card_topup"
    // KindReconciliationRequired flags a balance write that committed without its ledger entry.
    KindReconciliationRequired = "reconciliation_required"
)

// Message describes a notification payload.
type Message struct {
    Kind        string
    Destination string
    Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
    Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
    logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
    return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger. Reconciliation flags are
// logged at error level so they surface in alerting.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
    if n == nil || n.logger == nil {
        return nil
    }
    level := slog.LevelInfo
    if message.Kind == KindReconciliationRequired {
        level = slog.LevelError
    }
    n.logger.Log(ctx, level, "notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
    return nil
}
