package block

import (
	"sync"

	"github.com/mdavidsaver/pscdrv/pkg/pscio"
)

// SubscriberFunc is called with the updated Block. Implementations must not
// assume Data's backing is contiguous.
type SubscriberFunc func(b *Block)

// Token identifies a registered subscriber for later removal. Go func
// values aren't comparable (except to nil), so unlike the original CBList's
// function-pointer keying, callers hold onto the Token Add returns.
type Token uint64

type subscriberEntry struct {
	token Token
	fn    SubscriberFunc
}

// Subscribers is an insertion-ordered, panic-isolated callback registry.
type Subscribers struct {
	mu      sync.RWMutex
	entries []subscriberEntry
	next    Token
}

// NewSubscribers returns an empty registry.
func NewSubscribers() *Subscribers {
	return &Subscribers{}
}

// Add registers fn and returns a Token that Del accepts to remove it.
func (s *Subscribers) Add(fn SubscriberFunc) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	tok := s.next
	s.entries = append(s.entries, subscriberEntry{token: tok, fn: fn})
	return tok
}

// Del removes the subscriber registered under tok, if still present.
func (s *Subscribers) Del(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.token == tok {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

// Invoke calls every registered subscriber, in registration order, with b.
// A snapshot is taken under read lock so subscribers may freely Add/Del
// from within their own callback without deadlocking. A panicking
// subscriber is recovered and logged; the remaining subscribers still run.
func (s *Subscribers) Invoke(b *Block) {
	s.mu.RLock()
	snapshot := make([]subscriberEntry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.RUnlock()

	for _, e := range snapshot {
		s.invokeOne(e.fn, b)
	}
}

func (s *Subscribers) invokeOne(fn SubscriberFunc, b *Block) {
	defer func() {
		if r := recover(); r != nil {
			name := ""
			if b != nil && b.Owner != nil {
				name = b.Owner.Name()
			}
			logger := pscio.For(name)
			logger.Error().Interface("panic", r).Msg("subscriber panicked")
		}
	}()
	fn(b)
}
