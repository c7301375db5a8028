// Package timer provides named one-shot wall-clock timers. Fires are
// handed to a single dispatch goroutine, so the fire callback never runs
// concurrently with itself.
package timer

import (
	"sync"
	"time"
)

// Scheduler is the arming surface the engine works against.
type Scheduler interface {
	Arm(name string, atMs int64)
	Disarm(name string)
	Armed() []string
}

// Past deadlines still fire, just not synchronously inside Arm.
const minLead = 10 * time.Millisecond

const fireQueueSize = 64

// FireFunc receives the name of a timer that fired.
type FireFunc func(name string)

// armedTimer pairs a timer with the generation it was armed under, so a
// callback from a replaced timer can be told apart from the live one.
type armedTimer struct {
	timer *time.Timer
	gen   uint64
}

type Service struct {
	mu     sync.Mutex
	timers map[string]armedTimer
	gen    uint64
	fires  chan string
	done   chan struct{}
	once   sync.Once
	fire   FireFunc
	now    func() time.Time
}

func New(fire FireFunc) *Service {
	return &Service{
		timers: make(map[string]armedTimer),
		fires:  make(chan string, fireQueueSize),
		done:   make(chan struct{}),
		fire:   fire,
		now:    time.Now,
	}
}

// Start launches the dispatch goroutine.
func (s *Service) Start() {
	go s.dispatch()
}

// Stop disarms everything and stops dispatching. Safe to call twice.
func (s *Service) Stop() {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	for name, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, name)
	}
	s.mu.Unlock()
}

// Arm schedules a fire at the absolute epoch-ms deadline. Re-arming an
// existing name replaces its deadline.
func (s *Service) Arm(name string, atMs int64) {
	delay := time.UnixMilli(atMs).Sub(s.now())
	if delay < minLead {
		delay = minLead
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[name]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timers[name] = armedTimer{
		timer: time.AfterFunc(delay, func() { s.enqueue(name, gen) }),
		gen:   gen,
	}
}

// Disarm cancels a timer. Unknown names are a no-op.
func (s *Service) Disarm(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.timer.Stop()
		delete(s.timers, name)
	}
}

// Armed returns the names of currently armed timers.
func (s *Service) Armed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.timers))
	for name := range s.timers {
		names = append(names, name)
	}
	return names
}

func (s *Service) enqueue(name string, gen uint64) {
	s.mu.Lock()
	cur, ok := s.timers[name]
	if !ok || cur.gen != gen {
		// Disarmed or re-armed after this deadline elapsed; the entry in
		// the map, if any, belongs to a newer timer.
		s.mu.Unlock()
		return
	}
	delete(s.timers, name)
	s.mu.Unlock()
	select {
	case s.fires <- name:
	case <-s.done:
	}
}

func (s *Service) dispatch() {
	for {
		select {
		case name := <-s.fires:
			if s.fire != nil {
				s.fire(name)
			}
		case <-s.done:
			return
		}
	}
}
