package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"scalper/pkg/utils"
)

// WSReconnectConfig конфигурация переподключения WebSocket
type WSReconnectConfig struct {
	InitialDelay   time.Duration // первая пауза перед переподключением
	MaxDelay       time.Duration // потолок exponential backoff
	MaxRetries     int           // 0 = бесконечно
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// DefaultWSReconnectConfig возвращает конфигурацию по умолчанию: 2s, 4s, 8s, 16s
//
// Переподключение бесконечное: пока поток лежит, MarketFeed опрашивает REST.
func DefaultWSReconnectConfig() WSReconnectConfig {
	return WSReconnectConfig{
		InitialDelay:   2 * time.Second,
		MaxDelay:       16 * time.Second,
		MaxRetries:     0,
		ConnectTimeout: 10 * time.Second,
		PingInterval:   20 * time.Second,
		PongTimeout:    10 * time.Second,
	}
}

// WSConnectionState состояние WebSocket соединения
type WSConnectionState int32

const (
	WSStateDisconnected WSConnectionState = iota
	WSStateConnecting
	WSStateConnected
	WSStateReconnecting
	WSStateClosed
)

func (s WSConnectionState) String() string {
	switch s {
	case WSStateDisconnected:
		return "disconnected"
	case WSStateConnecting:
		return "connecting"
	case WSStateConnected:
		return "connected"
	case WSStateReconnecting:
		return "reconnecting"
	case WSStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// WSReconnectManager управляет WebSocket соединением с автоматическим переподключением
//
// Функции:
// - exponential backoff при разрывах
// - повторная подписка на каналы после переподключения
// - ping для проверки живости соединения
//
// Использование:
// 1. NewWSReconnectManager(...)
// 2. SetOnMessage / SetOnConnect / SetOnDisconnect
// 3. Connect()
// 4. AddSubscription + Send
// 5. Close()
type WSReconnectManager struct {
	name   string
	wsURL  string
	config WSReconnectConfig
	log    *utils.Logger

	conn   *websocket.Conn
	connMu sync.RWMutex

	// gorilla/websocket допускает одного писателя одновременно
	writeMu sync.Mutex

	state      int32 // atomic WSConnectionState
	retryCount int32 // atomic

	closeChan chan struct{}
	closeOnce sync.Once

	onMessage    func([]byte)
	onConnect    func()
	onDisconnect func(error)
	callbackMu   sync.RWMutex

	subscriptions   []interface{}
	subscriptionsMu sync.RWMutex
}

// NewWSReconnectManager создаёт менеджер переподключений
func NewWSReconnectManager(name, wsURL string, config WSReconnectConfig, log *utils.Logger) *WSReconnectManager {
	if log == nil {
		log = utils.L()
	}
	return &WSReconnectManager{
		name:      name,
		wsURL:     wsURL,
		config:    config,
		log:       log.WithComponent("ws").With(utils.String("stream", name)),
		closeChan: make(chan struct{}),
	}
}

// SetOnMessage устанавливает callback для входящих сообщений
func (m *WSReconnectManager) SetOnMessage(handler func([]byte)) {
	m.callbackMu.Lock()
	m.onMessage = handler
	m.callbackMu.Unlock()
}

// SetOnConnect устанавливает callback для события подключения
func (m *WSReconnectManager) SetOnConnect(handler func()) {
	m.callbackMu.Lock()
	m.onConnect = handler
	m.callbackMu.Unlock()
}

// SetOnDisconnect устанавливает callback для события отключения
func (m *WSReconnectManager) SetOnDisconnect(handler func(error)) {
	m.callbackMu.Lock()
	m.onDisconnect = handler
	m.callbackMu.Unlock()
}

// AddSubscription запоминает подписку для восстановления после переподключения
func (m *WSReconnectManager) AddSubscription(sub interface{}) {
	m.subscriptionsMu.Lock()
	m.subscriptions = append(m.subscriptions, sub)
	m.subscriptionsMu.Unlock()
}

// GetState возвращает текущее состояние соединения
func (m *WSReconnectManager) GetState() WSConnectionState {
	return WSConnectionState(atomic.LoadInt32(&m.state))
}

// IsConnected проверяет, установлено ли соединение
func (m *WSReconnectManager) IsConnected() bool {
	return m.GetState() == WSStateConnected
}

func (m *WSReconnectManager) closed() bool {
	select {
	case <-m.closeChan:
		return true
	default:
		return false
	}
}

// Connect устанавливает WebSocket соединение
func (m *WSReconnectManager) Connect() error {
	if m.closed() {
		return fmt.Errorf("manager is closed")
	}

	atomic.StoreInt32(&m.state, int32(WSStateConnecting))
	if err := m.dial(); err != nil {
		atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
		return err
	}

	m.markConnected()
	m.log.Info("websocket connected", utils.String("url", m.wsURL))
	return nil
}

// markConnected переводит менеджер в connected и запускает насосы
func (m *WSReconnectManager) markConnected() {
	atomic.StoreInt32(&m.state, int32(WSStateConnected))
	atomic.StoreInt32(&m.retryCount, 0)

	m.callbackMu.RLock()
	onConnect := m.onConnect
	m.callbackMu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	go m.readPump()
	go m.pingPump()
}

// dial подключается и восстанавливает подписки
func (m *WSReconnectManager) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: m.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, m.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial error: %w", err)
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	if err := m.resubscribe(); err != nil {
		// подписки уйдут при следующем переподключении
		m.log.Warn("resubscribe failed", utils.Err(err))
	}
	return nil
}

// resubscribe восстанавливает подписки после переподключения
func (m *WSReconnectManager) resubscribe() error {
	m.subscriptionsMu.RLock()
	subs := make([]interface{}, len(m.subscriptions))
	copy(subs, m.subscriptions)
	m.subscriptionsMu.RUnlock()

	for _, sub := range subs {
		if err := m.write(sub); err != nil {
			return fmt.Errorf("resubscribe error: %w", err)
		}
	}
	if len(subs) > 0 {
		m.log.Debug("resubscribed", utils.Int("channels", len(subs)))
	}
	return nil
}

func (m *WSReconnectManager) write(msg interface{}) error {
	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("no connection")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

// readPump читает сообщения и передаёт их в onMessage
func (m *WSReconnectManager) readPump() {
	for {
		if m.closed() {
			return
		}

		m.connMu.RLock()
		conn := m.conn
		m.connMu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleDisconnect(err)
			return
		}

		m.callbackMu.RLock()
		onMessage := m.onMessage
		m.callbackMu.RUnlock()
		if onMessage != nil {
			onMessage(message)
		}
	}
}

// pingPump отправляет ping для проверки соединения
func (m *WSReconnectManager) pingPump() {
	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.closeChan:
			return
		case <-ticker.C:
			if m.GetState() != WSStateConnected {
				return
			}

			m.connMu.RLock()
			conn := m.conn
			m.connMu.RUnlock()
			if conn == nil {
				return
			}

			m.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.config.PongTimeout))
			m.writeMu.Unlock()
			if err != nil {
				m.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect закрывает соединение и запускает переподключение
func (m *WSReconnectManager) handleDisconnect(err error) {
	if m.closed() {
		return
	}
	// только первый обработчик разрыва запускает переподключение
	if !atomic.CompareAndSwapInt32(&m.state, int32(WSStateConnected), int32(WSStateReconnecting)) {
		return
	}

	m.connMu.Lock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	m.callbackMu.RLock()
	onDisconnect := m.onDisconnect
	m.callbackMu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(err)
	}

	m.log.Warn("websocket disconnected", utils.Err(err))
	go m.reconnectLoop()
}

// reconnectLoop выполняет переподключение с exponential backoff
func (m *WSReconnectManager) reconnectLoop() {
	delay := m.config.InitialDelay

	for {
		if m.closed() {
			return
		}

		retry := atomic.AddInt32(&m.retryCount, 1)
		if m.config.MaxRetries > 0 && int(retry) > m.config.MaxRetries {
			m.log.Error("max reconnect attempts reached", utils.Int("attempts", m.config.MaxRetries))
			atomic.StoreInt32(&m.state, int32(WSStateDisconnected))
			return
		}

		wsReconnects.WithLabelValues(m.name).Inc()
		m.log.Info("reconnecting",
			utils.Duration("delay", delay),
			utils.Int("attempt", int(retry)),
		)

		timer := time.NewTimer(delay)
		select {
		case <-m.closeChan:
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := m.dial(); err != nil {
			m.log.Warn("reconnect failed", utils.Err(err))
			delay *= 2
			if delay > m.config.MaxDelay {
				delay = m.config.MaxDelay
			}
			continue
		}

		m.markConnected()
		m.log.Info("websocket reconnected")
		return
	}
}

// Send отправляет сообщение через WebSocket
func (m *WSReconnectManager) Send(msg interface{}) error {
	if m.GetState() != WSStateConnected {
		return fmt.Errorf("not connected (state: %s)", m.GetState())
	}
	return m.write(msg)
}

// Close закрывает соединение и останавливает переподключение
func (m *WSReconnectManager) Close() error {
	m.closeOnce.Do(func() { close(m.closeChan) })
	atomic.StoreInt32(&m.state, int32(WSStateClosed))

	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn != nil {
		err := m.conn.Close()
		m.conn = nil
		return err
	}
	return nil
}
