package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultServer = "https://ntfy.sh"

	terminalTitle = "Live timing upstream lost"
)

// priorities maps ntfy priority names to their numeric level.
var priorities = map[string]int{
	"min":     1,
	"low":     2,
	"default": 3,
	"high":    4,
	"urgent":  5,
}

// ValidPriority reports whether name is an ntfy priority.
func ValidPriority(name string) bool {
	_, ok := priorities[name]
	return ok
}

// Options configures the ntfy publisher.
type Options struct {
	Server   string
	Topic    string
	Priority string
	Tags     []string
	Token    string
}

// publication is the JSON body ntfy accepts on its root endpoint.
type publication struct {
	Topic    string   `json:"topic"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Tags     []string `json:"tags,omitempty"`
	Priority int      `json:"priority,omitempty"`
}

// Ntfy publishes upstream alerts to an ntfy topic.
type Ntfy struct {
	endpoint   string
	opts       Options
	httpClient *http.Client
	logger     *zap.Logger
}

func NewNtfy(opts Options, logger *zap.Logger) *Ntfy {
	server := opts.Server
	if server == "" {
		server = DefaultServer
	}
	return &Ntfy{
		endpoint:   strings.TrimSuffix(server, "/") + "/",
		opts:       opts,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// SendTerminalFailure always publishes at high priority.
func (n *Ntfy) SendTerminalFailure(ctx context.Context, transport string, attempts int, err error) error {
	return n.publish(ctx, publication{
		Title:    terminalTitle,
		Message:  FormatTerminalMessage(transport, attempts, err),
		Tags:     n.tags("rotating_light"),
		Priority: priorities["high"],
	})
}

func (n *Ntfy) SendRecovered(ctx context.Context, transport string, downtime time.Duration, failures int) error {
	return n.publish(ctx, publication{
		Title:    fmt.Sprintf("Live timing upstream recovered (%s)", orUnknown(transport)),
		Message:  FormatRecoveredMessage(transport, downtime, failures),
		Tags:     n.tags("white_check_mark"),
		Priority: priorities[n.opts.Priority],
	})
}

func (n *Ntfy) tags(extra string) []string {
	out := make([]string, 0, len(n.opts.Tags)+1)
	out = append(out, n.opts.Tags...)
	return append(out, extra)
}

func (n *Ntfy) publish(ctx context.Context, p publication) error {
	p.Topic = n.opts.Topic
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.opts.Token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("notification rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("topic", n.opts.Topic),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	n.logger.Debug("notification sent", zap.String("title", p.Title))
	return nil
}
