package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mushroom-automation/internal/models"

	"github.com/google/uuid"
)

// NewMemoryStore 创建内存存储（默认后端，所有读写均返回副本）
func NewMemoryStore() *Store {
	return &Store{
		Environments: NewMemoryEnvironmentRepository(),
		Rules:        NewMemoryRuleRepository(),
		Alerts:       NewMemoryAlertRepository(),
		Readings:     NewMemorySensorReadingRepository(0),
		ActuatorLogs: NewMemoryActuatorLogRepository(0),
	}
}

// ============================================
// 环境
// ============================================

// MemoryEnvironmentRepository 内存环境仓库
type MemoryEnvironmentRepository struct {
	mu           sync.RWMutex
	environments map[string]*models.Environment
}

// NewMemoryEnvironmentRepository 创建内存环境仓库
func NewMemoryEnvironmentRepository() *MemoryEnvironmentRepository {
	return &MemoryEnvironmentRepository{environments: make(map[string]*models.Environment)}
}

func (r *MemoryEnvironmentRepository) Create(_ context.Context, env *models.Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if _, exists := r.environments[env.ID]; exists {
		return fmt.Errorf("%w: environment %s already exists", models.ErrValidation, env.ID)
	}
	r.environments[env.ID] = env.Clone()
	return nil
}

func (r *MemoryEnvironmentRepository) Get(_ context.Context, id string) (*models.Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	env, ok := r.environments[id]
	if !ok {
		return nil, fmt.Errorf("%w: environment %s", models.ErrNotFound, id)
	}
	return env.Clone(), nil
}

func (r *MemoryEnvironmentRepository) Update(_ context.Context, env *models.Environment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.environments[env.ID]; !ok {
		return fmt.Errorf("%w: environment %s", models.ErrNotFound, env.ID)
	}
	r.environments[env.ID] = env.Clone()
	return nil
}

func (r *MemoryEnvironmentRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.environments[id]; !ok {
		return fmt.Errorf("%w: environment %s", models.ErrNotFound, id)
	}
	delete(r.environments, id)
	return nil
}

func (r *MemoryEnvironmentRepository) List(_ context.Context) ([]*models.Environment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Environment, 0, len(r.environments))
	for _, env := range r.environments {
		out = append(out, env.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ============================================
// 规则
// ============================================

// MemoryRuleRepository 内存规则仓库；每条规则整体替换，保证单条规则编辑的原子性
type MemoryRuleRepository struct {
	mu       sync.RWMutex
	rules    map[string]*models.AutomationRule
	sequence int64
}

// NewMemoryRuleRepository 创建内存规则仓库
func NewMemoryRuleRepository() *MemoryRuleRepository {
	return &MemoryRuleRepository{rules: make(map[string]*models.AutomationRule)}
}

func (r *MemoryRuleRepository) Save(_ context.Context, rule *models.AutomationRule) (*models.AutomationRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	stored := rule.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if existing, ok := r.rules[stored.ID]; ok {
		stored.Sequence = existing.Sequence
		stored.CreatedAt = existing.CreatedAt
	} else {
		r.sequence++
		stored.Sequence = r.sequence
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.rules[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *MemoryRuleRepository) Get(_ context.Context, id string) (*models.AutomationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: rule %s", models.ErrNotFound, id)
	}
	return rule.Clone(), nil
}

func (r *MemoryRuleRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rules[id]; !ok {
		return fmt.Errorf("%w: rule %s", models.ErrNotFound, id)
	}
	delete(r.rules, id)
	return nil
}

func (r *MemoryRuleRepository) List(_ context.Context) ([]*models.AutomationRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.AutomationRule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, rule.Clone())
	}
	SortRules(out)
	return out, nil
}

// SortRules 按优先级升序排序，同优先级按创建序号
func SortRules(rules []*models.AutomationRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Sequence < rules[j].Sequence
	})
}

// ============================================
// 告警
// ============================================

// MemoryAlertRepository 内存告警仓库
type MemoryAlertRepository struct {
	mu     sync.RWMutex
	alerts map[string]*models.Alert
}

// NewMemoryAlertRepository 创建内存告警仓库
func NewMemoryAlertRepository() *MemoryAlertRepository {
	return &MemoryAlertRepository{alerts: make(map[string]*models.Alert)}
}

func (r *MemoryAlertRepository) Create(_ context.Context, alert *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Status == models.AlertActive {
		for _, a := range r.alerts {
			if a.Status == models.AlertActive && a.EnvironmentID == alert.EnvironmentID && a.Type == alert.Type {
				return fmt.Errorf("%w: active %s alert already exists for environment %s",
					models.ErrValidation, alert.Type, alert.EnvironmentID)
			}
		}
	}
	r.alerts[alert.ID] = alert.Clone()
	return nil
}

func (r *MemoryAlertRepository) Update(_ context.Context, alert *models.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[alert.ID]; !ok {
		return fmt.Errorf("%w: alert %s", models.ErrNotFound, alert.ID)
	}
	r.alerts[alert.ID] = alert.Clone()
	return nil
}

func (r *MemoryAlertRepository) Get(_ context.Context, id string) (*models.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%w: alert %s", models.ErrNotFound, id)
	}
	return a.Clone(), nil
}

func (r *MemoryAlertRepository) FindActive(_ context.Context, environmentID string, alertType models.AlertType) (*models.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.alerts {
		if a.Status == models.AlertActive && a.EnvironmentID == environmentID && a.Type == alertType {
			return a.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: no active %s alert for environment %s", models.ErrNotFound, alertType, environmentID)
}

func (r *MemoryAlertRepository) List(_ context.Context, filter AlertFilter) ([]*models.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Alert, 0)
	for _, a := range r.alerts {
		if matchesAlert(a, filter) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastOccurrence.After(out[j].LastOccurrence)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ============================================
// 读数与执行器日志
// ============================================

// defaultRetention 内存仓库每个环境保留的记录数
const defaultRetention = 10000

// MemorySensorReadingRepository 内存读数仓库（每个环境保留最近 N 条）
type MemorySensorReadingRepository struct {
	mu        sync.RWMutex
	readings  map[string][]*models.SensorReading
	retention int
}

// NewMemorySensorReadingRepository 创建内存读数仓库，retention<=0 使用默认值
func NewMemorySensorReadingRepository(retention int) *MemorySensorReadingRepository {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &MemorySensorReadingRepository{readings: make(map[string][]*models.SensorReading), retention: retention}
}

func (r *MemorySensorReadingRepository) Append(_ context.Context, reading *models.SensorReading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append(r.readings[reading.EnvironmentID], reading.Clone())
	if len(list) > r.retention {
		list = list[len(list)-r.retention:]
	}
	r.readings[reading.EnvironmentID] = list
	return nil
}

func (r *MemorySensorReadingRepository) Latest(_ context.Context, environmentID string) (*models.SensorReading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.readings[environmentID]
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no readings for environment %s", models.ErrNotFound, environmentID)
	}
	return list[len(list)-1].Clone(), nil
}

func (r *MemorySensorReadingRepository) Range(_ context.Context, environmentID string, from, to time.Time) ([]*models.SensorReading, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.SensorReading, 0)
	for _, reading := range r.readings[environmentID] {
		if !reading.Timestamp.Before(from) && !reading.Timestamp.After(to) {
			out = append(out, reading.Clone())
		}
	}
	return out, nil
}

// MemoryActuatorLogRepository 内存执行器日志仓库
type MemoryActuatorLogRepository struct {
	mu        sync.RWMutex
	logs      map[string][]*models.ActuatorLog
	retention int
}

// NewMemoryActuatorLogRepository 创建内存执行器日志仓库，retention<=0 使用默认值
func NewMemoryActuatorLogRepository(retention int) *MemoryActuatorLogRepository {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &MemoryActuatorLogRepository{logs: make(map[string][]*models.ActuatorLog), retention: retention}
}

func (r *MemoryActuatorLogRepository) Append(_ context.Context, log *models.ActuatorLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	cp := *log
	list := append(r.logs[log.EnvironmentID], &cp)
	if len(list) > r.retention {
		list = list[len(list)-r.retention:]
	}
	r.logs[log.EnvironmentID] = list
	return nil
}

// List 按时间倒序返回最近的日志
func (r *MemoryActuatorLogRepository) List(_ context.Context, environmentID string, limit int) ([]*models.ActuatorLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.logs[environmentID]
	out := make([]*models.ActuatorLog, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		cp := *list[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
