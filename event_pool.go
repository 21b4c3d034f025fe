package wlwin

import (
	"sync"
)

// Event pool for zero-allocation event handling
var eventPool = sync.Pool{
	New: func() interface{} {
		return &Event{
			data: make([]byte, 0, 256),
		}
	},
}

// EventHandler handles an event on an object that has no proxy. The event
// is only valid for the duration of the call.
type EventHandler func(event *Event)

// maxHandlerOpcodes bounds the opcodes a handler entry can hold; no interface
// used here has more events than that.
const maxHandlerOpcodes = 32

// EventDispatcher routes events for objects that are tracked by ID only,
// such as sync callbacks.
type EventDispatcher struct {
	handlers map[uint32]*handlerEntry
}

// handlerEntry stores handlers for a specific object
type handlerEntry struct {
	handlers [maxHandlerOpcodes]EventHandler
}

// NewEventDispatcher creates an empty event dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{handlers: make(map[uint32]*handlerEntry)}
}

// RegisterHandler registers an event handler. Handlers for opcodes beyond
// the supported range are ignored.
func (d *EventDispatcher) RegisterHandler(objectID uint32, opcode uint16, handler EventHandler) {
	if opcode >= maxHandlerOpcodes {
		logger.Printf("dropping handler for object %d: opcode %d out of range", objectID, opcode)
		return
	}
	entry, ok := d.handlers[objectID]
	if !ok {
		entry = &handlerEntry{}
		d.handlers[objectID] = entry
	}
	entry.handlers[opcode] = handler
}

// Unregister drops every handler of an object.
func (d *EventDispatcher) Unregister(objectID uint32) {
	delete(d.handlers, objectID)
}

// Dispatch calls the handler registered for the object and opcode. It
// reports whether one was found.
func (d *EventDispatcher) Dispatch(objectID uint32, opcode uint16, data []byte) bool {
	entry, ok := d.handlers[objectID]
	if !ok || opcode >= maxHandlerOpcodes {
		return false
	}
	handler := entry.handlers[opcode]
	if handler == nil {
		return false
	}

	// Get event from pool
	event := eventPool.Get().(*Event)
	event.ProxyID = objectID
	event.Opcode = opcode
	event.data = append(event.data[:0], data...) // Reuse backing array
	event.offset = 0

	handler(event)

	event.fds = nil
	eventPool.Put(event)
	return true
}
