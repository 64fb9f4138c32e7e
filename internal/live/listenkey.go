package live

import (
	"context"
	"time"

	"github.com/bnzr-team/grinder/internal/core"
)

// ListenKeyAPI is the narrow user-data-stream surface of the exchange
// client.
type ListenKeyAPI interface {
	StartUserStream(ctx context.Context) (string, error)
	KeepaliveUserStream(ctx context.Context, listenKey string) error
	CloseUserStream(ctx context.Context, listenKey string) error
}

// ListenKeyManager keeps the user-data listen key alive and reissues
// it when the exchange expires it.
type ListenKeyManager struct {
	api               ListenKeyAPI
	logger            core.ILogger
	keepaliveInterval time.Duration
	listenKey         string
}

// NewListenKeyManager creates the manager. Binance expires keys after
// 60 minutes; keepalive every 30 keeps a wide margin.
func NewListenKeyManager(api ListenKeyAPI, logger core.ILogger) *ListenKeyManager {
	return &ListenKeyManager{
		api:               api,
		logger:            logger.WithField("component", "listen_key_manager"),
		keepaliveInterval: 30 * time.Minute,
	}
}

// Key returns the current listen key.
func (m *ListenKeyManager) Key() string { return m.listenKey }

// Run acquires a key and keeps it alive until the context ends.
func (m *ListenKeyManager) Run(ctx context.Context) error {
	key, err := m.api.StartUserStream(ctx)
	if err != nil {
		return err
	}
	m.listenKey = key
	m.logger.Info("user stream started")

	ticker := time.NewTicker(m.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := m.api.CloseUserStream(closeCtx, m.listenKey); err != nil {
				m.logger.Warn("user stream close failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := m.api.KeepaliveUserStream(ctx, m.listenKey); err != nil {
				m.logger.Warn("listen key keepalive failed, reissuing", "error", err)
				key, err := m.api.StartUserStream(ctx)
				if err != nil {
					m.logger.Error("listen key reissue failed", "error", err)
					continue
				}
				m.listenKey = key
			}
		}
	}
}
