package session

import (
	"sync"
	"time"

	"market-trend-alerts/internal/market"
)

// Step is where the user currently is in the alert dialogue.
type Step int

const (
	// StepNone means no dialogue is in progress.
	StepNone Step = iota
	// StepDirection awaits the rising/falling choice.
	StepDirection
	// StepTargetPrice awaits the numeric target price.
	StepTargetPrice
	// StepTradeLevel awaits the trade skill level for bonus settings.
	StepTradeLevel
	// StepPushInterval awaits the push reminder interval in minutes.
	StepPushInterval
)

// State is the partially collected alert or settings input. It lives only
// for the duration of one dialogue; nothing here is persisted.
type State struct {
	Step      Step
	Resource  market.Resource
	Direction market.Direction
	// PromptMessage is the inline-keyboard message to edit or clean up when
	// the dialogue moves on.
	PromptMessage int64
}

type key struct {
	owner int64
	chat  int64
}

type entry struct {
	state State
	exp   time.Time
}

// Store keeps in-flight dialogue state per (owner, chat) with a TTL, so an
// abandoned dialogue cannot swallow an unrelated message days later.
type Store struct {
	mu  sync.RWMutex
	m   map[key]entry
	ttl time.Duration

	now func() time.Time
}

// DefaultTTL is how long an unfinished dialogue stays answerable.
const DefaultTTL = 10 * time.Minute

// NewStore constructs a session store. A non-positive ttl falls back to
// DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		m:   make(map[key]entry),
		ttl: ttl,
		now: time.Now,
	}
}

// Get returns the live dialogue state for the (owner, chat) pair. Expired
// entries are dropped on read.
func (s *Store) Get(owner, chat int64) (State, bool) {
	k := key{owner: owner, chat: chat}

	s.mu.RLock()
	e, ok := s.m[k]
	s.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	if s.now().After(e.exp) {
		s.mu.Lock()
		delete(s.m, k)
		s.mu.Unlock()
		return State{}, false
	}
	return e.state, true
}

// Put stores the dialogue state and refreshes its TTL.
func (s *Store) Put(owner, chat int64, state State) {
	k := key{owner: owner, chat: chat}
	s.mu.Lock()
	s.m[k] = entry{state: state, exp: s.now().Add(s.ttl)}
	s.mu.Unlock()
}

// Clear ends the dialogue for the (owner, chat) pair.
func (s *Store) Clear(owner, chat int64) {
	s.mu.Lock()
	delete(s.m, key{owner: owner, chat: chat})
	s.mu.Unlock()
}

// Purge drops every expired entry and reports how many were removed. The bot
// calls this from the periodic sweep; reads already self-clean, so this only
// bounds memory for dialogues nobody ever touches again.
func (s *Store) Purge() int {
	now := s.now()
	removed := 0

	s.mu.Lock()
	for k, e := range s.m {
		if now.After(e.exp) {
			delete(s.m, k)
			removed++
		}
	}
	s.mu.Unlock()
	return removed
}
