// Package rng provides unbiased random selection for game mechanics
package rng

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

var ErrInvalidRange = errors.New("rng: invalid range")

// Service draws random numbers from an entropy source.
// It is safe for concurrent use.
type Service struct {
	entropy io.Reader
	mu      sync.Mutex
}

// New creates a service backed by crypto/rand
func New() *Service {
	return NewFromReader(rand.Reader)
}

// NewFromReader creates a service backed by r
func NewFromReader(r io.Reader) *Service {
	return &Service{entropy: r}
}

// GenerateInt returns a random integer in [0, max).
// Rejection sampling removes modulo bias.
func (s *Service) GenerateInt(max int64) (int64, error) {
	if max <= 0 {
		return 0, fmt.Errorf("%w: max must be positive", ErrInvalidRange)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	const top = uint64(1<<63 - 1)
	threshold := top - (top % uint64(max))

	var buf [8]byte
	for {
		if _, err := io.ReadFull(s.entropy, buf[:]); err != nil {
			return 0, fmt.Errorf("read entropy: %w", err)
		}
		n := binary.BigEndian.Uint64(buf[:]) >> 1
		if n < threshold {
			return int64(n % uint64(max)), nil
		}
	}
}

// Pick returns a uniformly chosen element of items
func Pick[T any](s *Service, items []T) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, fmt.Errorf("%w: empty set", ErrInvalidRange)
	}
	i, err := s.GenerateInt(int64(len(items)))
	if err != nil {
		return zero, err
	}
	return items[i], nil
}
