package service

import (
	"sync"

	"github.com/google/uuid"

	"pocus/internal/modules/upload/domain"
)

// dispatcher delivers events on one channel without ever blocking a worker.
// Events of one task keep their order. While undelivered, a newer progress
// event replaces an older one of the same task. Terminal events are never dropped.
type dispatcher struct {
	out    chan domain.Event
	notify chan struct{}
	done   chan struct{}
	exited chan struct{}

	mu      sync.Mutex
	order   []uuid.UUID
	pending map[uuid.UUID][]domain.Event
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		out:     make(chan domain.Event),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		pending: map[uuid.UUID][]domain.Event{},
	}
	go d.loop()
	return d
}

func (d *dispatcher) publish(event domain.Event) {
	d.mu.Lock()
	queue, waiting := d.pending[event.TaskID]
	if n := len(queue); n > 0 && event.Status == domain.StatusUploading && queue[n-1].Status == domain.StatusUploading {
		queue[n-1] = event
	} else {
		queue = append(queue, event)
	}
	d.pending[event.TaskID] = queue
	if !waiting {
		d.order = append(d.order, event.TaskID)
	}
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *dispatcher) next() (domain.Event, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.order) == 0 {
		return domain.Event{}, false
	}
	id := d.order[0]
	d.order = d.order[1:]
	queue := d.pending[id]
	event := queue[0]
	if len(queue) == 1 {
		delete(d.pending, id)
	} else {
		d.pending[id] = queue[1:]
		d.order = append(d.order, id)
	}
	return event, true
}

func (d *dispatcher) loop() {
	defer close(d.exited)
	defer close(d.out)
	for {
		event, ok := d.next()
		if !ok {
			select {
			case <-d.notify:
				continue
			case <-d.done:
				return
			}
		}
		select {
		case d.out <- event:
		case <-d.done:
			return
		}
	}
}

// stop drops undelivered events and closes the output channel.
func (d *dispatcher) stop() {
	select {
	case <-d.done:
	default:
		close(d.done)
	}
	<-d.exited
}
