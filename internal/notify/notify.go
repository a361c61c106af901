package notify

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"scalper/pkg/utils"
)

// Notifier - получатель операторских уведомлений
// Send не должен блокировать торговый цикл
type Notifier interface {
	Send(msg string)
}

// Sink - конечный канал доставки (Telegram, лог)
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg string) error
}

// Nop - уведомления отключены
type Nop struct{}

// Send ничего не делает
func (Nop) Send(string) {}

// DefaultBufferSize - ёмкость очереди уведомлений
const DefaultBufferSize = 100

// Dropped - уведомления, потерянные из-за переполненной очереди
var Dropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Notifications dropped because the queue was full",
	},
)

// Failed - ошибки доставки по каналам
var Failed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "notify",
		Name:      "failed_total",
		Help:      "Notification delivery failures",
	},
	[]string{"sink"},
)

// Dispatcher - буферизованная очередь с одним отправителем
//
// Send кладёт сообщение в канал без блокировки: при переполнении сообщение
// теряется и считается в Dropped. Горутина Run раздаёт сообщения всем sink.
type Dispatcher struct {
	queue chan string
	sinks []Sink
	log   *utils.Logger

	once sync.Once
	done chan struct{}
}

// NewDispatcher создаёт диспетчер
func NewDispatcher(bufferSize int, log *utils.Logger, sinks ...Sink) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if log == nil {
		log = utils.L()
	}
	return &Dispatcher{
		queue: make(chan string, bufferSize),
		sinks: sinks,
		log:   log.WithComponent("notify"),
		done:  make(chan struct{}),
	}
}

// Send ставит сообщение в очередь
func (d *Dispatcher) Send(msg string) {
	d.tryEnqueue(msg)
}

// tryEnqueue возвращает true, если сообщение поставлено в очередь
func (d *Dispatcher) tryEnqueue(msg string) bool {
	if msg == "" {
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		Dropped.Inc()
		return false
	}
}

// Run доставляет сообщения до отмены ctx, затем дочищает очередь
func (d *Dispatcher) Run(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		}
	}
}

// Done закрывается после выхода Run
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// drain отправляет остаток очереди с отдельным контекстом
func (d *Dispatcher) drain() {
	ctx := context.Background()
	for {
		select {
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg string) {
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, msg); err != nil {
			Failed.WithLabelValues(sink.Name()).Inc()
			d.log.Warn("notification delivery failed", utils.String("sink", sink.Name()), utils.Err(err))
		}
	}
}

// LogSink пишет уведомления в лог
type LogSink struct {
	log *utils.Logger
}

// NewLogSink создаёт sink поверх логгера
func NewLogSink(log *utils.Logger) *LogSink {
	if log == nil {
		log = utils.L()
	}
	return &LogSink{log: log.WithComponent("notify")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, msg string) error {
	s.log.Info("notification", utils.String("message", msg))
	return nil
}
