package chain

import (
	"context"
	"sync"
)

// NonceSource coordinates transaction nonce allocation for one signer on one
// network. Every nonce is handed out exactly once and every claim ends in
// exactly one of two ways: a nonce whose broadcast was definitively rejected
// is released for reuse so the sequence stays gapless, and a nonce whose
// transaction reached the network (or may have, on an ambiguous send) is
// retired and dropped from tracking entirely.
type NonceSource struct {
	mu       sync.Mutex
	primed   bool
	next     uint64
	claimed  map[uint64]struct{}
	released map[uint64]struct{}
}

func NewNonceSource() *NonceSource {
	return &NonceSource{
		claimed:  make(map[uint64]struct{}),
		released: make(map[uint64]struct{}),
	}
}

// Claim allocates the next nonce. On first use the counter is primed with
// fetch, which should return the signer's pending nonce from the node; a
// fetch failure leaves the source unprimed so a later Claim retries.
// Released nonces are reused lowest-first before the counter advances.
func (s *NonceSource) Claim(ctx context.Context, fetch func(context.Context) (uint64, error)) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.primed {
		n, err := fetch(ctx)
		if err != nil {
			return 0, err
		}
		s.next = n
		s.primed = true
	}

	if len(s.released) > 0 {
		lowest := uint64(0)
		first := true
		for n := range s.released {
			if first || n < lowest {
				lowest = n
				first = false
			}
		}
		delete(s.released, lowest)
		s.claimed[lowest] = struct{}{}
		return lowest, nil
	}

	n := s.next
	s.next++
	s.claimed[n] = struct{}{}
	return n, nil
}

// Release returns a claimed nonce whose transaction never reached the node.
func (s *NonceSource) Release(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.claimed[n]; !ok {
		return
	}
	delete(s.claimed, n)
	s.released[n] = struct{}{}
}

// Retire discards a claimed nonce whose transaction reached, or may have
// reached, the network. It can never be reused and is no longer tracked.
func (s *NonceSource) Retire(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, n)
}
