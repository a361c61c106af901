package indicator

// Ёмкости истории
const (
	CycleHistorySize  = 50
	EngineHistorySize = 1000
)

// History - ограниченная FIFO очередь значений
// Не синхронизирована: владелец отвечает за блокировки
type History struct {
	buf   []float64
	start int
	size  int
}

// NewHistory создаёт историю ёмкостью capacity (минимум 1)
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]float64, capacity)}
}

// Push добавляет значение, вытесняя самое старое при переполнении
func (h *History) Push(v float64) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = v
		h.size++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % len(h.buf)
}

// Values возвращает копию значений от старых к новым
func (h *History) Values() []float64 {
	out := make([]float64, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Last возвращает последнее значение
func (h *History) Last() (float64, bool) {
	if h.size == 0 {
		return 0, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)], true
}

func (h *History) Len() int { return h.size }
func (h *History) Cap() int { return len(h.buf) }
