package websocket

import (
	"bytes"
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"scalper/internal/models"
	"scalper/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// DefaultBroadcastBuffer - ёмкость очереди broadcast
const DefaultBroadcastBuffer = 256

// Dropped - сообщения потока, потерянные из-за переполнения очереди или медленного клиента
var Dropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "stream",
		Name:      "dropped_total",
		Help:      "Stream messages dropped because a queue was full",
	},
)

// Hub управляет WebSocket клиентами потока /ws/stream
//
// Клиенты получают сводку движка на каждом summary-тике и все операторские
// уведомления. Broadcast никогда не блокирует вызывающего: при заполненной
// очереди сообщение теряется.
//
// Использование:
//  1. hub := NewHub(origins, log)
//  2. go hub.Run(ctx)
//  3. router.HandleFunc("/ws/stream", hub.ServeWS)
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	origins *OriginChecker
	log     *utils.Logger

	mu sync.RWMutex
}

// NewHub создаёт Hub; пустой список origins разрешает любые
func NewHub(allowedOrigins []string, log *utils.Logger) *Hub {
	if log == nil {
		log = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, DefaultBroadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		origins:    NewOriginChecker(allowedOrigins),
		log:        log.WithComponent("stream"),
	}
}

// Run - главный цикл Hub, завершается с ctx
//
// Список клиентов копируется под RLock, отправка идёт без блокировки,
// медленные клиенты удаляются под Write Lock.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("stream client connected", utils.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("stream client disconnected", utils.Int("clients", total))

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
						Dropped.Inc()
					}
				}
				h.mu.Unlock()
				h.log.Warn("removed slow stream clients", utils.Int("removed", len(toRemove)))
			}
		}
	}
}

// Done закрывается после выхода Run
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

// Broadcast сериализует сообщение и ставит его в очередь без блокировки
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("failed to marshal stream message", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	// Encode добавляет перевод строки
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	select {
	case h.broadcast <- msgCopy:
	default:
		Dropped.Inc()
	}
}

// BroadcastSummary отправляет сводку движка
func (h *Hub) BroadcastSummary(s models.Summary) {
	h.Broadcast(NewSummaryMessage(s))
}

// BroadcastPairs отправляет состояние пар
func (h *Hub) BroadcastPairs(pairs []models.PairSummary) {
	h.Broadcast(NewPairsMessage(pairs))
}

// Name - имя канала доставки уведомлений
func (h *Hub) Name() string { return "stream" }

// Deliver пересылает уведомление клиентам потока
func (h *Hub) Deliver(_ context.Context, msg string) error {
	h.Broadcast(NewNotificationMessage(msg))
	return nil
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
