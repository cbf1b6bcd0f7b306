package node

import (
	"encoding/json"
	"sync"
)

// Result is one final payload result held by a terminal node.
type Result struct {
	Algorithm string          `json:"algorithm"`
	DataSize  int64           `json:"data_size"`
	Data      json.RawMessage `json:"data"`
}

type resultStore struct {
	mu     sync.Mutex
	byPeer map[string][]Result
}

func newResultStore() *resultStore {
	return &resultStore{byPeer: make(map[string][]Result)}
}

func (s *resultStore) add(peer string, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPeer[peer] = append(s.byPeer[peer], r)
}

func (s *resultStore) get(peer string) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.byPeer[peer]))
	copy(out, s.byPeer[peer])
	return out
}
