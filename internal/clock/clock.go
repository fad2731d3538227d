package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock выдаёт монотонные логические timestamps, привязанные к wall-clock.
// Версия используется одновременно как last-modified время (миллисекунды)
// и как счётчик: два вызова Tick никогда не вернут одно значение.
type Clock struct {
	now    func() time.Time // источник времени, подменяется в тестах
	nodeID string           // идентификатор клиента
	last   uint64           // последнее выданное или наблюдённое значение
	mu     sync.Mutex
}

// New создает часы с уникальным идентификатором узла (UUID).
func New() *Clock {
	return &Clock{
		now:    time.Now,
		nodeID: uuid.New().String(),
	}
}

// NewWithSource создает часы с заданным узлом и источником времени.
// Используется для тестирования или восстановления состояния.
func NewWithSource(nodeID string, now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, nodeID: nodeID}
}

// Tick возвращает новую версию: max(now в миллисекундах, last+1).
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := uint64(c.now().UnixMilli())
	if next <= c.last {
		next = c.last + 1
	}
	c.last = next
	return next
}

// Observe продвигает часы до версии, принятой с удалённого хранилища,
// чтобы следующая локальная правка гарантированно была новее.
func (c *Clock) Observe(remote uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote > c.last {
		c.last = remote
	}
}

// Last возвращает последнее значение без изменения часов.
func (c *Clock) Last() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}

// NodeID возвращает идентификатор узла.
func (c *Clock) NodeID() string {
	return c.nodeID
}
