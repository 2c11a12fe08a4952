package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
)

// Task is what a handler receives. Delivery is set only on the webhook lane.
type Task struct {
	Job      *domain.Job
	Delivery *domain.DeliveryRecord
}

// ShopDomain returns the tenant the task targets.
func (t Task) ShopDomain() string {
	if t.Delivery != nil {
		return t.Delivery.ShopDomain
	}
	return ""
}

type Handler func(ctx context.Context, task Task) error

type handlerKey struct {
	lane    domain.Lane
	jobType string
}

// Handlers maps (lane, job type) to a handler. Registration happens before
// the pool starts polling.
type Handlers struct {
	mu sync.RWMutex
	m  map[handlerKey]Handler
}

func NewHandlers() *Handlers {
	return &Handlers{m: make(map[handlerKey]Handler)}
}

// Register panics on a duplicate binding, which is always a wiring bug.
func (h *Handlers) Register(lane domain.Lane, jobType string, fn Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	k := handlerKey{lane: lane, jobType: jobType}
	if _, exists := h.m[k]; exists {
		panic(fmt.Sprintf("worker: handler for %s/%s already registered", lane, jobType))
	}
	h.m[k] = fn
}

func (h *Handlers) Lookup(lane domain.Lane, jobType string) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	fn, ok := h.m[handlerKey{lane: lane, jobType: jobType}]
	return fn, ok
}

func (h *Handlers) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.m)
}
