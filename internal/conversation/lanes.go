package conversation

import "sync"

// laneSet serializes work per conversation id. Messages for the same
// conversation run strictly one at a time because the pipeline is a
// read-modify-write over the lead and the history; unrelated conversations
// never contend. Lanes are reference-counted so the map does not grow with
// every conversation ever seen.
type laneSet struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	mu   sync.Mutex
	refs int
}

func newLaneSet() *laneSet {
	return &laneSet{lanes: make(map[string]*lane)}
}

// lock acquires the lane for key, blocking while another message for the same
// key is in flight. The returned func releases it.
func (s *laneSet) lock(key string) func() {
	s.mu.Lock()
	ln, ok := s.lanes[key]
	if !ok {
		ln = &lane{}
		s.lanes[key] = ln
	}
	ln.refs++
	s.mu.Unlock()

	ln.mu.Lock()

	return func() {
		ln.mu.Unlock()

		s.mu.Lock()
		ln.refs--
		if ln.refs == 0 {
			delete(s.lanes, key)
		}
		s.mu.Unlock()
	}
}
