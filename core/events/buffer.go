package events

import (
	"strings"
	"sync"

	"escrowd/core/types"
)

// carrier is implemented by emitted events that wrap a typed payload.
type carrier interface {
	Event() *types.Event
}

// Buffer is a bounded in-memory event history. When capacity is exceeded the
// oldest entries are dropped. It implements Emitter so it can be handed
// directly to the engine.
type Buffer struct {
	mu    sync.RWMutex
	max   int
	items []*types.Event
}

// NewBuffer creates a buffer retaining at most max events. A non-positive max
// falls back to 1024.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 1024
	}
	return &Buffer{max: max}
}

// Emit records the event if it carries a typed payload.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	c, ok := evt.(carrier)
	if !ok || c.Event() == nil {
		return
	}
	payload := c.Event()
	clone := &types.Event{Type: payload.Type, Attributes: make(map[string]string, len(payload.Attributes))}
	for k, v := range payload.Attributes {
		clone.Attributes[k] = v
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, clone)
	if len(b.items) > b.max {
		b.items = b.items[len(b.items)-b.max:]
	}
}

// List returns buffered events whose type matches the prefix, oldest first.
// limit <= 0 means no limit.
func (b *Buffer) List(prefix string, limit int) []*types.Event {
	if b == nil {
		return nil
	}
	normalized := strings.ToLower(strings.TrimSpace(prefix))
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*types.Event, 0, len(b.items))
	for _, evt := range b.items {
		if normalized != "" && !strings.HasPrefix(strings.ToLower(evt.Type), normalized) {
			continue
		}
		clone := &types.Event{Type: evt.Type, Attributes: make(map[string]string, len(evt.Attributes))}
		for k, v := range evt.Attributes {
			clone.Attributes[k] = v
		}
		out = append(out, clone)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
