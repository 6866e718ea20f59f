package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type durationEntry struct {
	firstTrue time.Time
	expiresAt time.Time
}

type triggerEntry struct {
	last    time.Time
	history []time.Time // 近一小时的触发时间（升序）
}

// MemoryRuleState 内存规则状态
// 持续时长记录在条件为假时删除；超过 TTL 未刷新的记录在下次访问或 Sweep 时清理
type MemoryRuleState struct {
	mu        sync.Mutex
	ttl       time.Duration
	durations map[ConditionKey]*durationEntry
	triggers  map[string]*triggerEntry
}

// NewMemoryRuleState 创建内存规则状态
func NewMemoryRuleState(ttl time.Duration) *MemoryRuleState {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryRuleState{
		ttl:       ttl,
		durations: make(map[ConditionKey]*durationEntry),
		triggers:  make(map[string]*triggerEntry),
	}
}

func triggerKey(ruleID, environmentID string) string {
	return ruleID + ":" + environmentID
}

func (s *MemoryRuleState) MarkTrue(_ context.Context, key ConditionKey, now time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.durations[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &durationEntry{firstTrue: now}
		s.durations[key] = entry
	}
	entry.expiresAt = now.Add(s.ttl)
	return entry.firstTrue, nil
}

func (s *MemoryRuleState) Clear(_ context.Context, key ConditionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.durations, key)
	return nil
}

func (s *MemoryRuleState) LastTrigger(_ context.Context, ruleID, environmentID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.triggers[triggerKey(ruleID, environmentID)]
	if !ok {
		return time.Time{}, false, nil
	}
	return entry.last, true, nil
}

func (s *MemoryRuleState) RecordTrigger(_ context.Context, ruleID, environmentID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := triggerKey(ruleID, environmentID)
	entry, ok := s.triggers[key]
	if !ok {
		entry = &triggerEntry{}
		s.triggers[key] = entry
	}
	entry.last = now
	entry.history = append(pruneBefore(entry.history, now.Add(-time.Hour)), now)
	return nil
}

func (s *MemoryRuleState) ExecutionsSince(_ context.Context, ruleID, environmentID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.triggers[triggerKey(ruleID, environmentID)]
	if !ok {
		return 0, nil
	}
	count := 0
	for _, t := range entry.history {
		if t.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryRuleState) ForgetRule(_ context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.durations {
		if key.RuleID == ruleID {
			delete(s.durations, key)
		}
	}
	prefix := ruleID + ":"
	for key := range s.triggers {
		if strings.HasPrefix(key, prefix) {
			delete(s.triggers, key)
		}
	}
	return nil
}

// Sweep 清理过期的持续时长记录，返回清理数量
func (s *MemoryRuleState) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.durations {
		if !now.Before(entry.expiresAt) {
			delete(s.durations, key)
			removed++
		}
	}
	return removed
}

// Len 当前持续时长记录数
func (s *MemoryRuleState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.durations)
}

func pruneBefore(history []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(history) && !history[i].After(cutoff) {
		i++
	}
	return history[i:]
}
