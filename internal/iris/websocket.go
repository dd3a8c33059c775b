package iris

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageCallback receives every decoded inbound message.
type MessageCallback func(message *Message)

type callbackEntry struct {
	id       int
	callback MessageCallback
}

// WebSocket is the inbound event source: a persistent connection to the
// Iris bridge that fans decoded messages out to subscribed callbacks and
// reconnects with backoff when the link drops.
type WebSocket struct {
	wsURL                string
	conn                 *websocket.Conn
	state                SocketState
	stateMu              sync.RWMutex
	callbacks            []callbackEntry
	nextCallbackID       int
	callbacksMu          sync.RWMutex
	reconnectAttempts    int
	maxReconnectAttempts int
	reconnectDelay       time.Duration
	logger               *zap.Logger
	stopCh               chan struct{}
	stopOnce             sync.Once
	listenerWg           sync.WaitGroup
}

func NewWebSocket(wsURL string, maxReconnectAttempts int, reconnectDelay time.Duration, logger *zap.Logger) *WebSocket {
	return &WebSocket{
		wsURL:                wsURL,
		state:                StateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		logger:               logger,
		stopCh:               make(chan struct{}),
		nextCallbackID:       1,
	}
}

func (ws *WebSocket) Connect(ctx context.Context) error {
	ws.stateMu.Lock()
	if ws.state == StateConnected || ws.state == StateConnecting {
		ws.stateMu.Unlock()
		ws.logger.Warn("WebSocket already connected or connecting")
		return nil
	}
	ws.stateMu.Unlock()

	ws.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, ws.wsURL, nil)
	if err != nil {
		ws.logger.Error("Failed to connect WebSocket", zap.Error(err))
		ws.setState(StateFailed)
		ws.scheduleReconnect(ctx)
		return err
	}

	ws.conn = conn
	ws.setState(StateConnected)
	ws.reconnectAttempts = 0

	ws.logger.Info("WebSocket connected", zap.String("url", ws.wsURL))

	ws.listenerWg.Add(1)
	go ws.listen(ctx)

	return nil
}

func (ws *WebSocket) listen(ctx context.Context) {
	defer ws.listenerWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ws.stopCh:
			return
		default:
			if ws.conn == nil {
				return
			}
			_, payload, err := ws.conn.ReadMessage()
			if err != nil {
				select {
				case <-ws.stopCh:
					return
				default:
				}
				ws.logger.Error("WebSocket read error", zap.Error(err))
				ws.setState(StateDisconnected)
				ws.scheduleReconnect(ctx)
				return
			}
			ws.deliver(payload)
		}
	}
}

func (ws *WebSocket) deliver(payload []byte) {
	var message Message
	if err := json.Unmarshal(payload, &message); err != nil {
		preview := string(payload)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		ws.logger.Error("Failed to parse message",
			zap.Error(err),
			zap.String("data", preview),
		)
		return
	}

	ws.callbacksMu.RLock()
	callbacks := make([]callbackEntry, len(ws.callbacks))
	copy(callbacks, ws.callbacks)
	ws.callbacksMu.RUnlock()

	for _, entry := range callbacks {
		entry.callback(&message)
	}
}

func (ws *WebSocket) scheduleReconnect(ctx context.Context) {
	ws.reconnectAttempts++
	if ws.reconnectAttempts > ws.maxReconnectAttempts {
		ws.logger.Error("Max reconnect attempts reached",
			zap.Int("attempts", ws.reconnectAttempts),
		)
		ws.setState(StateFailed)
		return
	}

	ws.setState(StateReconnecting)
	delay := ws.reconnectDelay * time.Duration(ws.reconnectAttempts)

	ws.logger.Info("Scheduling reconnect",
		zap.Int("attempt", ws.reconnectAttempts),
		zap.Duration("delay", delay),
	)

	go func() {
		select {
		case <-time.After(delay):
			if err := ws.Connect(ctx); err != nil {
				ws.logger.Error("Reconnect failed", zap.Error(err))
			}
		case <-ws.stopCh:
		case <-ctx.Done():
		}
	}()
}

// OnMessage subscribes a callback and returns its unsubscribe function.
func (ws *WebSocket) OnMessage(callback MessageCallback) func() {
	ws.callbacksMu.Lock()
	id := ws.nextCallbackID
	ws.nextCallbackID++
	ws.callbacks = append(ws.callbacks, callbackEntry{id: id, callback: callback})
	ws.callbacksMu.Unlock()

	return func() {
		ws.callbacksMu.Lock()
		defer ws.callbacksMu.Unlock()
		for i, entry := range ws.callbacks {
			if entry.id == id {
				ws.callbacks = append(ws.callbacks[:i], ws.callbacks[i+1:]...)
				break
			}
		}
	}
}

func (ws *WebSocket) setState(newState SocketState) {
	ws.stateMu.Lock()
	oldState := ws.state
	ws.state = newState
	ws.stateMu.Unlock()

	if oldState != newState {
		ws.logger.Info("WebSocket state changed",
			zap.String("from", oldState.String()),
			zap.String("to", newState.String()),
		)
	}
}

func (ws *WebSocket) State() SocketState {
	ws.stateMu.RLock()
	defer ws.stateMu.RUnlock()
	return ws.state
}

func (ws *WebSocket) IsConnected() bool {
	return ws.State() == StateConnected
}

func (ws *WebSocket) Disconnect() error {
	ws.stopOnce.Do(func() {
		close(ws.stopCh)
	})

	if ws.conn != nil {
		if err := ws.conn.Close(); err != nil {
			ws.logger.Error("Failed to close WebSocket", zap.Error(err))
		}
		ws.conn = nil
	}
	ws.setState(StateDisconnected)

	done := make(chan struct{})
	go func() {
		ws.listenerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		ws.logger.Warn("Timeout waiting for listener to stop")
	}

	return nil
}
