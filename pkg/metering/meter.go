// Package metering aggregates generation usage, rule hits and sync cycle
// counters for the status surface.
package metering

import (
	"sync"
	"time"

	"github.com/tinyland-inc/wxclaw/pkg/providers"
)

// ProfileMeter tracks generation calls made through one profile.
type ProfileMeter struct {
	ProfileID        string    `json:"profile_id"`
	Model            string    `json:"model"`
	Calls            int64     `json:"calls"`
	Errors           int64     `json:"errors"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	LastCall         time.Time `json:"last_call"`
}

// RuleMeter tracks how often a rule produced the outgoing reply.
type RuleMeter struct {
	RuleID  string    `json:"rule_id"`
	Hits    int64     `json:"hits"`
	LastHit time.Time `json:"last_hit"`
}

// SyncMeter counts poll cycles.
type SyncMeter struct {
	Cycles   int64 `json:"cycles"`
	Failed   int64 `json:"failed"`
	Messages int64 `json:"messages"`
	Replies  int64 `json:"replies"`
}

type Snapshot struct {
	Profiles map[string]ProfileMeter `json:"profiles"`
	Rules    map[string]RuleMeter    `json:"rules"`
	Sync     SyncMeter               `json:"sync"`
}

type MeterStore struct {
	mu       sync.RWMutex
	profiles map[string]*ProfileMeter
	rules    map[string]*RuleMeter
	sync     SyncMeter
	now      func() time.Time
}

var _ providers.UsageRecorder = (*MeterStore)(nil)

func NewMeterStore() *MeterStore {
	return &MeterStore{
		profiles: make(map[string]*ProfileMeter),
		rules:    make(map[string]*RuleMeter),
		now:      time.Now,
	}
}

// RecordGeneration implements providers.UsageRecorder.
func (s *MeterStore) RecordGeneration(profileID, model string, usage *providers.UsageInfo, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.profiles[profileID]
	if !ok {
		m = &ProfileMeter{ProfileID: profileID}
		s.profiles[profileID] = m
	}
	m.Model = model
	m.Calls++
	m.LastCall = s.now()
	if err != nil {
		m.Errors++
	}
	if usage != nil {
		m.PromptTokens += int64(usage.PromptTokens)
		m.CompletionTokens += int64(usage.CompletionTokens)
		m.TotalTokens += int64(usage.TotalTokens)
	}
}

func (s *MeterStore) RecordRuleHit(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.rules[ruleID]
	if !ok {
		m = &RuleMeter{RuleID: ruleID}
		s.rules[ruleID] = m
	}
	m.Hits++
	m.LastHit = s.now()
}

// RecordCycle counts one poll cycle with the number of messages it
// delivered and replies it sent.
func (s *MeterStore) RecordCycle(failed bool, messages, replies int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sync.Cycles++
	if failed {
		s.sync.Failed++
	}
	s.sync.Messages += int64(messages)
	s.sync.Replies += int64(replies)
}

func (s *MeterStore) GetProfileMeter(profileID string) (ProfileMeter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.profiles[profileID]
	if !ok {
		return ProfileMeter{}, false
	}
	return *m, true
}

// Snapshot returns a copy of every meter.
func (s *MeterStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Snapshot{
		Profiles: make(map[string]ProfileMeter, len(s.profiles)),
		Rules:    make(map[string]RuleMeter, len(s.rules)),
		Sync:     s.sync,
	}
	for id, m := range s.profiles {
		out.Profiles[id] = *m
	}
	for id, m := range s.rules {
		out.Rules[id] = *m
	}
	return out
}
