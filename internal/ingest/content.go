package ingest

import (
	"fmt"
	"sync"

	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
)

// contentStore holds message payloads in memory, keyed by resource claim.
// A payload lives until its claimant count reaches zero.
type contentStore struct {
	mu       sync.RWMutex
	payloads map[string][]byte
	claims   flowfile.ClaimManager
}

func newContentStore(claims flowfile.ClaimManager) *contentStore {
	return &contentStore{
		payloads: make(map[string][]byte),
		claims:   claims,
	}
}

// put stores a payload under a new claim and takes the first reference.
func (s *contentStore) put(claim flowfile.ResourceClaim, payload []byte) {
	s.mu.Lock()
	s.payloads[claim.ID] = payload
	s.mu.Unlock()
	s.claims.IncrementClaimantCount(claim)
}

func (s *contentStore) get(claim flowfile.ResourceClaim) ([]byte, error) {
	s.mu.RLock()
	payload, ok := s.payloads[claim.ID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("content claim %s not found", claim.ID)
	}
	return payload, nil
}

// release drops one reference and frees the payload when none remain.
func (s *contentStore) release(claim flowfile.ResourceClaim) {
	if s.claims.DecrementClaimantCount(claim) > 0 {
		return
	}
	s.mu.Lock()
	delete(s.payloads, claim.ID)
	s.mu.Unlock()
}

// sweep frees payloads whose claims were released elsewhere, e.g. by a
// drop request decrementing counts directly on the claim manager.
func (s *contentStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.payloads {
		claim := flowfile.ResourceClaim{Container: contentContainer, Section: contentSection, ID: id}
		if s.claims.ClaimantCount(claim) == 0 {
			delete(s.payloads, id)
		}
	}
}
