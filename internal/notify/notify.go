// Package notify alerts operators about upstream health.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Notifier is told when the upstream gives up and when it comes back.
type Notifier interface {
	SendTerminalFailure(ctx context.Context, transport string, attempts int, err error) error
	SendRecovered(ctx context.Context, transport string, downtime time.Duration, failures int) error
}

// NoopNotifier is used when notifications are disabled.
type NoopNotifier struct{}

func (n *NoopNotifier) SendTerminalFailure(_ context.Context, _ string, _ int, _ error) error {
	return nil
}

func (n *NoopNotifier) SendRecovered(_ context.Context, _ string, _ time.Duration, _ int) error {
	return nil
}

// New returns an ntfy publisher when enabled, otherwise a NoopNotifier.
func New(enabled bool, opts Options, logger *zap.Logger) Notifier {
	if !enabled {
		return &NoopNotifier{}
	}
	return NewNtfy(opts, logger)
}
