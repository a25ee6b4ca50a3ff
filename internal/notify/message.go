package notify

import (
	"fmt"
	"strings"
	"time"
)

// FormatTerminalMessage creates the body sent when reconnection gives up.
func FormatTerminalMessage(transport string, attempts int, err error) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Last transport: %s\n", orUnknown(transport)))
	sb.WriteString(fmt.Sprintf("Reconnect attempts: %d\n", attempts))
	sb.WriteString("Relay is serving the last known snapshot and will not retry.")

	if err != nil {
		sb.WriteString(fmt.Sprintf("\n\nError: %v", err))
	}

	return sb.String()
}

// FormatRecoveredMessage creates the body sent when the upstream comes back
// after failed attempts.
func FormatRecoveredMessage(transport string, downtime time.Duration, failures int) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Transport: %s\n", orUnknown(transport)))
	sb.WriteString(fmt.Sprintf("Failed attempts: %d\n", failures))
	sb.WriteString(fmt.Sprintf("Downtime: %s", downtime.Round(time.Second)))

	return sb.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
