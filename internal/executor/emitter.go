package executor

import "sync"

// Emitter fans events out to subscribers. Each subscriber receives events in
// emission order on its own goroutine, never on the emitter's caller, so an
// emitter may be fired while the caller holds locks the callback also takes.
type Emitter[E any] struct {
	ex   *Executor
	mu   sync.Mutex
	next int
	subs map[int]*subscriber[E]
}

type subscriber[E any] struct {
	queue *Queue[E]
	stop  chan struct{}
	once  sync.Once
}

func NewEmitter[E any](ex *Executor) *Emitter[E] {
	return &Emitter[E]{ex: ex, subs: make(map[int]*subscriber[E])}
}

// Subscribe registers fn and returns a func that cancels the subscription.
func (em *Emitter[E]) Subscribe(fn func(E)) func() {
	sub := &subscriber[E]{queue: NewQueue[E](em.ex), stop: make(chan struct{})}
	em.mu.Lock()
	id := em.next
	em.next++
	em.subs[id] = sub
	em.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.stop:
				return
			case <-sub.queue.Ready():
				for {
					ev, end, ok := sub.queue.TryPop()
					if !ok {
						break
					}
					fn(ev)
					end()
				}
			}
		}
	}()

	return func() {
		sub.once.Do(func() {
			em.mu.Lock()
			delete(em.subs, id)
			em.mu.Unlock()
			close(sub.stop)
			sub.queue.Close()
		})
	}
}

func (em *Emitter[E]) Emit(ev E) {
	em.mu.Lock()
	subs := make([]*subscriber[E], 0, len(em.subs))
	for _, sub := range em.subs {
		subs = append(subs, sub)
	}
	em.mu.Unlock()
	for _, sub := range subs {
		sub.queue.Push(ev)
	}
}
