package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides rule id assignment.
func WithIDGenerator(next func() string) StoreOption {
	return func(s *Store) {
		s.nextID = next
	}
}

// Store owns the authoritative rule set. Mutations are serialised by a
// write lock; reads may run concurrently with each other.
type Store struct {
	mu    sync.RWMutex
	rules []AlertRule // most-recent-first
	index map[IdentityKey]string

	now    func() time.Time
	nextID func() string
}

// NewStore constructs an empty rule store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		index:  make(map[IdentityKey]string),
		now:    func() time.Time { return time.Now().UTC() },
		nextID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert adds a new active rule unless its identity key is already taken.
func (s *Store) Insert(c Candidate) (AlertRule, error) {
	key := Key(c.SeriesID, c.IssueNumber)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.index[key]; ok {
		return AlertRule{}, &DuplicateRuleError{Key: key, ExistingID: existing}
	}

	rule := AlertRule{
		ID:           s.nextID(),
		SeriesID:     c.SeriesID,
		IssueNumber:  c.IssueNumber,
		MinDealScore: c.MinDealScore,
		Status:       StatusActive,
		CreatedAt:    s.now(),
	}

	s.rules = append([]AlertRule{rule}, s.rules...)
	s.index[key] = rule.ID
	return rule, nil
}

// Restore re-adds a rule that already has an id, status and creation time,
// keeping the most-recent-first ordering.
func (s *Store) Restore(rule AlertRule) error {
	if rule.ID == "" {
		return fmt.Errorf("restore rule: empty id")
	}
	if !rule.Status.Valid() {
		return fmt.Errorf("restore rule %s: invalid status %q", rule.ID, rule.Status)
	}
	key := rule.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.index[key]; ok {
		return &DuplicateRuleError{Key: key, ExistingID: existing}
	}
	if s.position(rule.ID) >= 0 {
		return fmt.Errorf("restore rule %s: id already present", rule.ID)
	}

	at := len(s.rules)
	for i, r := range s.rules {
		if rule.CreatedAt.After(r.CreatedAt) {
			at = i
			break
		}
	}

	s.rules = append(s.rules, AlertRule{})
	copy(s.rules[at+1:], s.rules[at:])
	s.rules[at] = rule
	s.index[key] = rule.ID
	return nil
}

// Toggle flips a rule between active and paused.
func (s *Store) Toggle(id string) (AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.position(id)
	if i < 0 {
		return AlertRule{}, ErrNotFound
	}
	s.rules[i].Status = s.rules[i].Status.Flip()
	return s.rules[i], nil
}

// Delete removes a rule and frees its identity key. The removed rule is returned.
func (s *Store) Delete(id string) (AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.position(id)
	if i < 0 {
		return AlertRule{}, ErrNotFound
	}
	removed := s.rules[i]
	s.rules = append(s.rules[:i:i], s.rules[i+1:]...)
	delete(s.index, removed.Key())
	return removed, nil
}

// Replace swaps the whole rule set for list in one step. The list must hold
// distinct ids and identity keys; on error the store is left untouched.
func (s *Store) Replace(list []AlertRule) error {
	rules := make([]AlertRule, len(list))
	copy(rules, list)
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].CreatedAt.After(rules[j].CreatedAt)
	})

	index := make(map[IdentityKey]string, len(rules))
	ids := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		if rule.ID == "" {
			return fmt.Errorf("replace rules: empty id")
		}
		if !rule.Status.Valid() {
			return fmt.Errorf("replace rules: rule %s has invalid status %q", rule.ID, rule.Status)
		}
		if _, ok := ids[rule.ID]; ok {
			return fmt.Errorf("replace rules: id %s repeated", rule.ID)
		}
		key := rule.Key()
		if existing, ok := index[key]; ok {
			return &DuplicateRuleError{Key: key, ExistingID: existing}
		}
		ids[rule.ID] = struct{}{}
		index[key] = rule.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
	s.index = index
	return nil
}

// Get looks up a rule by id.
func (s *Store) Get(id string) (AlertRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.position(id)
	if i < 0 {
		return AlertRule{}, false
	}
	return s.rules[i], true
}

// List returns a snapshot of all rules, most-recent-first.
func (s *Store) List() []AlertRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AlertRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Len returns the number of live rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// CountsByStatus tallies the current snapshot.
func (s *Store) CountsByStatus() Counts {
	var counts Counts
	for _, rule := range s.List() {
		switch rule.Status {
		case StatusActive:
			counts.Active++
		case StatusPaused:
			counts.Paused++
		}
	}
	return counts
}

func (s *Store) position(id string) int {
	for i, r := range s.rules {
		if r.ID == id {
			return i
		}
	}
	return -1
}
