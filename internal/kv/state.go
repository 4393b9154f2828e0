// Package kv is the small external state machine piChain replicates:
// committed transactions are opaque bytes to the core agreement protocol,
// but the client-visible put/get surface needs a concrete key/value decoding
// of that payload. This package is that one seam, shared by internal/client
// (which builds payloads from "put <key> <value>" lines) and internal/node
// (which applies committed payloads to the replicated map).
package kv

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// ErrMalformedPayload is returned by Decode when a committed transaction's
// payload isn't a validly-encoded put.
var ErrMalformedPayload = errors.New("kv: malformed payload")

// Encode packs a key/value pair into the opaque Transaction payload the
// core carries end to end.
func Encode(key, value []byte) []byte {
	buf := make([]byte, 0, 4+len(key)+len(value))
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(key)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, key...)
	buf = append(buf, value...)
	return buf
}

// Decode reverses Encode.
func Decode(payload []byte) (key, value []byte, err error) {
	if len(payload) < 4 {
		return nil, nil, ErrMalformedPayload
	}
	klen := binary.BigEndian.Uint32(payload[:4])
	rest := payload[4:]
	if uint32(len(rest)) < klen {
		return nil, nil, ErrMalformedPayload
	}
	return rest[:klen], rest[klen:], nil
}

// State is the replicated map every peer builds up by applying committed
// transactions in commit order.
type State struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New builds an empty State.
func New() *State {
	return &State{data: make(map[string][]byte)}
}

// Apply decodes and applies a single committed payload.
func (s *State) Apply(payload []byte) error {
	key, value, err := Decode(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[string(key)] = value
	return nil
}

// Get reads the committed value for key. The bool is false if key has
// never been written.
func (s *State) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	return v, ok
}
