package core

import (
	"reflect"
	"runtime"
	"strings"
	"sync"
)

const defaultTaskHistoryCapacity = 100

// dispatchHistory is a fixed-size ring of the latest dispatch records.
type dispatchHistory struct {
	mu    sync.Mutex
	items []DispatchRecord
	head  int
	count int
}

func newDispatchHistory(capacity int) *dispatchHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &dispatchHistory{items: make([]DispatchRecord, capacity)}
}

func (h *dispatchHistory) Add(record DispatchRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (h *dispatchHistory) Recent(limit int) []DispatchRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]DispatchRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *dispatchHistory) Last() (DispatchRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return DispatchRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

// resolveHandlerName names a task after its handler when no name was given:
// the function name for a HandlerFunc, the type name otherwise.
func resolveHandlerName(handler Handler, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if handler == nil {
		return "task"
	}

	if fn, ok := handler.(HandlerFunc); ok {
		if fn == nil {
			return "task"
		}
		if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil && f.Name() != "" {
			name := f.Name()
			if i := strings.LastIndexByte(name, '/'); i >= 0 {
				name = name[i+1:]
			}
			return name
		}
		return "task"
	}

	t := reflect.TypeOf(handler)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "task"
	}
	return t.Name()
}
