package collector

import (
	"sync"

	"github.com/skaes/webvitals-tools/formats/webvitals"
)

// Store holds the latest record per metric name and remembers which
// observations have already been passed on.
type Store struct {
	mutex    sync.Mutex
	metrics  map[webvitals.Name]webvitals.Metric
	reported map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		metrics:  make(map[webvitals.Name]webvitals.Metric),
		reported: make(map[string]struct{}),
	}
}

// Put stores m, replacing any earlier record of the same name, and
// returns whether m has not been reported before.
func (s *Store) Put(m webvitals.Metric) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.metrics[m.Name] = m
	key := m.Key()
	if _, seen := s.reported[key]; seen {
		return false
	}
	s.reported[key] = struct{}{}
	return true
}

func (s *Store) Get(name webvitals.Name) (webvitals.Metric, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	m, ok := s.metrics[name]
	return m, ok
}

// Values returns the stored records in canonical name order. The result
// is never nil.
func (s *Store) Values() []webvitals.Metric {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	values := make([]webvitals.Metric, 0, len(s.metrics))
	for _, name := range webvitals.Names {
		if m, ok := s.metrics[name]; ok {
			values = append(values, m)
		}
	}
	return values
}

func (s *Store) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.metrics)
}

func (s *Store) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.metrics = make(map[webvitals.Name]webvitals.Metric)
	s.reported = make(map[string]struct{})
}
