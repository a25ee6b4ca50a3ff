package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// Hub name used by the classic endpoint.
	hubName = "Streaming"

	classicProtocol = "1.5"
	userAgent       = "BestHTTP"
	acceptEncoding  = "gzip,identity"
)

// Negotiation is the result of a successful negotiate request.
type Negotiation struct {
	ConnectionToken string
	Cookie          string
}

// Negotiator performs the HTTP half of both connection variants.
type Negotiator struct {
	httpClient *http.Client
	logger     *zap.Logger
}

type classicNegotiateResponse struct {
	ConnectionToken string `json:"ConnectionToken"`
	ConnectionID    string `json:"ConnectionId"`
}

type coreNegotiateResponse struct {
	ConnectionToken string `json:"connectionToken"`
	ConnectionID    string `json:"connectionId"`
	Error           string `json:"error"`
}

func NewNegotiator(timeout time.Duration, logger *zap.Logger) *Negotiator {
	transport := &http.Transport{
		Proxy:              http.ProxyFromEnvironment,
		MaxIdleConns:       10,
		MaxConnsPerHost:    4,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	return &Negotiator{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger,
	}
}

// NegotiateCommon performs the unauthenticated classic negotiate GET.
func (n *Negotiator) NegotiateCommon(ctx context.Context, baseURL string) (*Negotiation, error) {
	q := url.Values{}
	q.Set("connectionData", connectionData())
	q.Set("clientProtocol", classicProtocol)
	endpoint := strings.TrimSuffix(baseURL, "/") + "/negotiate?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	body, cookie, err := n.do(req)
	if err != nil {
		return nil, err
	}

	var resp classicNegotiateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrNegotiationFailed, err)
	}
	if resp.ConnectionToken == "" {
		return nil, fmt.Errorf("%w: empty connection token", ErrNegotiationFailed)
	}

	return &Negotiation{ConnectionToken: resp.ConnectionToken, Cookie: cookie}, nil
}

// NegotiatePremium performs the bearer-authenticated core negotiate POST.
func (n *Negotiator) NegotiatePremium(ctx context.Context, baseURL, token string) (*Negotiation, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: no subscription token", ErrUnauthorized)
	}

	endpoint := strings.TrimSuffix(baseURL, "/") + "/negotiate?negotiateVersion=1"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	body, cookie, err := n.do(req)
	if err != nil {
		return nil, err
	}

	var resp coreNegotiateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrNegotiationFailed, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrNegotiationFailed, resp.Error)
	}

	connToken := resp.ConnectionToken
	if connToken == "" {
		connToken = resp.ConnectionID
	}
	if connToken == "" {
		return nil, fmt.Errorf("%w: empty connection token", ErrNegotiationFailed)
	}

	return &Negotiation{ConnectionToken: connToken, Cookie: cookie}, nil
}

func (n *Negotiator) do(req *http.Request) ([]byte, string, error) {
	n.logger.Debug("negotiating", zap.String("method", req.Method), zap.String("url", req.URL.Redacted()))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}

	// Read body before closing for error messages
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, "", fmt.Errorf("%w: reading body: %v", ErrNegotiationFailed, readErr)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, "", fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("%w: unexpected status %d: %s", ErrNegotiationFailed, resp.StatusCode, truncate(string(body), 200))
	}

	return body, joinCookies(resp.Header.Values("Set-Cookie")), nil
}

// joinCookies keeps the name=value part of each Set-Cookie header.
func joinCookies(setCookies []string) string {
	parts := make([]string, 0, len(setCookies))
	for _, sc := range setCookies {
		pair, _, _ := strings.Cut(sc, ";")
		pair = strings.TrimSpace(pair)
		if pair != "" {
			parts = append(parts, pair)
		}
	}
	return strings.Join(parts, "; ")
}

func connectionData() string {
	return `[{"name":"` + hubName + `"}]`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// websocketURL rewrites an http(s) base into a ws(s) endpoint.
func websocketURL(baseURL, path string, q url.Values) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + path)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
