package mqtt

import (
	"sync"

	"github.com/kilianp07/shiprelay/core/model"
)

// serializer runs tasks one at a time per connection, in submission order,
// while different connections proceed in parallel. A connection's goroutine
// exits as soon as its queue is empty.
type serializer struct {
	mu     sync.Mutex
	queues map[model.ConnID][]func()
	wg     sync.WaitGroup
}

func newSerializer() *serializer {
	return &serializer{queues: make(map[model.ConnID][]func())}
}

func (s *serializer) submit(conn model.ConnID, task func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, running := s.queues[conn]
	s.queues[conn] = append(q, task)
	if !running {
		s.wg.Add(1)
		go s.drain(conn)
	}
}

func (s *serializer) drain(conn model.ConnID) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		q := s.queues[conn]
		if len(q) == 0 {
			delete(s.queues, conn)
			s.mu.Unlock()
			return
		}
		task := q[0]
		s.queues[conn] = q[1:]
		s.mu.Unlock()
		task()
	}
}

// wait blocks until every submitted task has run.
func (s *serializer) wait() { s.wg.Wait() }
