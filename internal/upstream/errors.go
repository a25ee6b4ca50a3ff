package upstream

import "errors"

var (
	ErrNegotiationFailed = errors.New("negotiation failed")
	ErrUnauthorized      = errors.New("credential rejected")
	ErrHandshakeFailed   = errors.New("hub handshake failed")
	ErrSubscribeFailed   = errors.New("subscribe failed")
	ErrTransportClosed   = errors.New("transport closed")
	ErrNoTransport       = errors.New("no transport configured")
	ErrNotRunning        = errors.New("upstream manager not running")
)
