package node

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/longphanquangminh/midnight-explorer/log"
	"github.com/longphanquangminh/midnight-explorer/storage"
)

// rpcClientTimeout is the HTTP client timeout for RPC requests, chosen low
// so a dead node fails fast instead of hanging a page load.
const rpcClientTimeout = 10 * time.Second

// Manager hands out a shared RPC client for the node endpoint. The dial
// happens lazily on first use; a dropped connection is forgotten so the
// next call redials.
type Manager struct {
	endpoint string
	logger   *log.Logger

	mu     sync.Mutex
	client *rpc.Client
	sub    *rpc.ClientSubscription
}

// NewManager creates a connection manager for the endpoint. No network
// traffic happens until the first call.
func NewManager(endpoint string, logger *log.Logger) *Manager {
	return &Manager{
		endpoint: endpoint,
		logger:   logger,
	}
}

// Acquire returns a connected client, dialing if none is cached. On
// transports that support notifications it also subscribes to new heads so
// a silently dying connection is detected and dropped.
func (m *Manager) Acquire(ctx context.Context) (*rpc.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	client, err := rpc.DialOptions(ctx, m.endpoint, rpc.WithHTTPClient(&http.Client{Timeout: rpcClientTimeout}))
	if err != nil {
		return nil, &storage.ConnectionError{Endpoint: m.endpoint, Err: err}
	}

	heads := make(chan *Header)
	sub, err := client.Subscribe(ctx, subscriptionNamespace, heads, subscriptionNewHeads)
	switch {
	case err == nil:
		m.sub = sub
		go m.watch(client, heads, sub)
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		// HTTP transport: no liveness feed, per-call errors have to do.
		m.logger.Debug("head subscription unavailable", "endpoint", m.endpoint)
	default:
		client.Close()
		return nil, &storage.ConnectionError{Endpoint: m.endpoint, Err: err}
	}

	m.client = client
	m.logger.Info("connected to node", "endpoint", m.endpoint)
	return client, nil
}

// Call performs one JSON-RPC call over the managed connection. Any failure
// is reported as a ConnectionError; transport-level failures additionally
// drop the cached client so the next call redials.
func (m *Manager) Call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	client, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	err = client.CallContext(ctx, result, method, args...)
	if err == nil {
		return nil
	}
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		m.drop(client)
	}
	return &storage.ConnectionError{Endpoint: m.endpoint, Err: err}
}

// watch drains head notifications and forgets the cached client once the
// subscription reports an error.
func (m *Manager) watch(client *rpc.Client, heads <-chan *Header, sub *rpc.ClientSubscription) {
	for {
		select {
		case head, ok := <-heads:
			if !ok {
				return
			}
			if head != nil {
				m.logger.Debug("new finalized head", "height", int64(head.Number))
			}
		case err, ok := <-sub.Err():
			if !ok {
				// Deliberate unsubscribe during Close.
				return
			}
			m.logger.Warn("head subscription failed, dropping connection",
				"endpoint", m.endpoint,
				"err", err,
			)
			m.drop(client)
			return
		}
	}
}

// drop closes and forgets the cached client, unless a newer one already
// replaced it.
func (m *Manager) drop(client *rpc.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != client {
		return
	}
	m.client = nil
	m.sub = nil
	client.Close()
}

// Close tears down the cached connection, if any.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sub != nil {
		m.sub.Unsubscribe()
		m.sub = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
}
