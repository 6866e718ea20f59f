package environment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mushroom-automation/internal/catalog"
	"mushroom-automation/internal/clock"
	"mushroom-automation/internal/models"
	"mushroom-automation/internal/repository"

	"go.uber.org/zap"
)

// Manager 环境状态管理器
// 同一环境的所有写操作（管理接口、覆盖设置、tick 中的状态回写）都在该环境的互斥锁内完成
type Manager struct {
	repo    repository.EnvironmentRepository
	catalog *catalog.Catalog
	clock   clock.Clock
	logger  *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewManager 创建环境状态管理器
func NewManager(repo repository.EnvironmentRepository, cat *catalog.Catalog, clk clock.Clock, logger *zap.Logger) *Manager {
	return &Manager{
		repo:    repo,
		catalog: cat,
		clock:   clk,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(environmentID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[environmentID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[environmentID] = l
	}
	return l
}

// MutateFunc 在环境锁内执行的修改函数；返回 changed=false 时不回写
type MutateFunc func(env *models.Environment) (changed bool, err error)

// Mutate 加锁读取最新环境、执行 fn、按需持久化，返回修改后的副本
func (m *Manager) Mutate(ctx context.Context, environmentID string, fn MutateFunc) (*models.Environment, error) {
	l := m.lockFor(environmentID)
	l.Lock()
	defer l.Unlock()

	env, err := m.load(ctx, environmentID)
	if err != nil {
		return nil, err
	}

	changed, err := fn(env)
	if err != nil {
		return nil, err
	}
	if changed {
		env.UpdatedAt = m.clock.Now()
		if err := env.Validate(); err != nil {
			return nil, err
		}
		if err := m.repo.Update(ctx, env); err != nil {
			return nil, fmt.Errorf("failed to save environment: %w", err)
		}
	}
	return env.Clone(), nil
}

// load 读取环境并修复不一致的阶段引用
func (m *Manager) load(ctx context.Context, environmentID string) (*models.Environment, error) {
	env, err := m.repo.Get(ctx, environmentID)
	if err != nil {
		return nil, err
	}
	if healed := m.heal(env); healed {
		env.UpdatedAt = m.clock.Now()
		if err := m.repo.Update(ctx, env); err != nil {
			return nil, fmt.Errorf("failed to save healed environment: %w", err)
		}
	}
	return env, nil
}

// heal 修复状态不一致：
// 品种不存在时清除品种和阶段；阶段不属于品种（或缺失）时回到品种第一阶段
func (m *Manager) heal(env *models.Environment) bool {
	if env.SpeciesID == "" {
		if env.CurrentPhase != "" {
			m.logger.Warn("State inconsistency: phase without species, clearing phase",
				zap.String("environment_id", env.ID),
				zap.String("phase", env.CurrentPhase),
			)
			env.CurrentPhase = ""
			env.PhaseStartTime = nil
			return true
		}
		return false
	}

	if _, err := m.catalog.Species(env.SpeciesID); err != nil {
		m.logger.Warn("State inconsistency: unknown species, clearing assignment",
			zap.String("environment_id", env.ID),
			zap.String("species_id", env.SpeciesID),
		)
		env.SpeciesID = ""
		env.CurrentPhase = ""
		env.PhaseStartTime = nil
		env.Status = models.EnvironmentIdle
		return true
	}

	if env.CurrentPhase != "" {
		if _, err := m.catalog.Phase(env.SpeciesID, env.CurrentPhase); err == nil {
			return false
		}
	}

	first, err := m.catalog.FirstPhase(env.SpeciesID)
	if err != nil {
		return false
	}
	m.logger.Warn("State inconsistency: phase not in species, resetting to first phase",
		zap.String("environment_id", env.ID),
		zap.String("species_id", env.SpeciesID),
		zap.String("invalid_phase", env.CurrentPhase),
		zap.String("phase", first.Name),
	)
	now := m.clock.Now()
	env.CurrentPhase = first.Name
	env.PhaseStartTime = &now
	return true
}

// Create 创建环境
func (m *Manager) Create(ctx context.Context, id, name, description string) (*models.Environment, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: environment name is required", models.ErrValidation)
	}
	env := models.NewEnvironment(id, name, m.clock.Now())
	env.Description = description
	if err := m.repo.Create(ctx, env); err != nil {
		return nil, err
	}
	m.logger.Info("Environment created",
		zap.String("environment_id", env.ID),
		zap.String("name", name),
	)
	return env.Clone(), nil
}

// Get 获取环境副本
func (m *Manager) Get(ctx context.Context, environmentID string) (*models.Environment, error) {
	return m.Mutate(ctx, environmentID, func(*models.Environment) (bool, error) { return false, nil })
}

// List 列出全部环境
func (m *Manager) List(ctx context.Context) ([]*models.Environment, error) {
	return m.repo.List(ctx)
}

// Delete 删除环境
func (m *Manager) Delete(ctx context.Context, environmentID string) error {
	l := m.lockFor(environmentID)
	l.Lock()
	defer l.Unlock()

	if err := m.repo.Delete(ctx, environmentID); err != nil {
		return err
	}
	m.locksMu.Lock()
	delete(m.locks, environmentID)
	m.locksMu.Unlock()
	return nil
}

// AssignSpecies 分配品种；phaseName 为空时进入第一阶段，状态变为 active
func (m *Manager) AssignSpecies(ctx context.Context, environmentID, speciesID, phaseName string) (*models.Environment, error) {
	var phase *models.Phase
	var err error
	if phaseName == "" {
		phase, err = m.catalog.FirstPhase(speciesID)
	} else {
		phase, err = m.catalog.Phase(speciesID, phaseName)
	}
	if err != nil {
		return nil, err
	}

	env, err := m.Mutate(ctx, environmentID, func(env *models.Environment) (bool, error) {
		now := m.clock.Now()
		env.SpeciesID = speciesID
		env.CurrentPhase = phase.Name
		env.PhaseStartTime = &now
		env.Status = models.EnvironmentActive
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Species assigned",
		zap.String("environment_id", environmentID),
		zap.String("species_id", speciesID),
		zap.String("phase", phase.Name),
	)
	return env, nil
}

// UnassignSpecies 取消品种分配：清除阶段与覆盖设置，状态回到 idle
func (m *Manager) UnassignSpecies(ctx context.Context, environmentID string) (*models.Environment, error) {
	return m.Mutate(ctx, environmentID, func(env *models.Environment) (bool, error) {
		env.SpeciesID = ""
		env.CurrentPhase = ""
		env.PhaseStartTime = nil
		env.Overrides = nil
		env.OverrideSetAt = nil
		env.OverrideExpiry = nil
		env.Status = models.EnvironmentIdle
		return true, nil
	})
}

// ChangePhase 切换阶段：目标阶段必须属于已分配品种，阶段开始时间重置
func (m *Manager) ChangePhase(ctx context.Context, environmentID, phaseName string) (*models.Environment, error) {
	var from string
	env, err := m.Mutate(ctx, environmentID, func(env *models.Environment) (bool, error) {
		if env.SpeciesID == "" {
			return false, fmt.Errorf("%w: environment %s has no species assigned", models.ErrValidation, env.ID)
		}
		if _, err := m.catalog.Phase(env.SpeciesID, phaseName); err != nil {
			return false, err
		}
		from = env.CurrentPhase
		now := m.clock.Now()
		env.CurrentPhase = phaseName
		env.PhaseStartTime = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Phase changed",
		zap.String("environment_id", environmentID),
		zap.String("from", from),
		zap.String("to", phaseName),
	)
	return env, nil
}

// AdvancePhase 自动推进阶段：仅当当前阶段及其开始时间仍与 expectedStart 一致时切换
// 检查与写入在同一把锁内完成，期间的手动切换不会被覆盖；未切换时返回 false
func (m *Manager) AdvancePhase(ctx context.Context, environmentID, fromPhase string, expectedStart time.Time, toPhase string) (*models.Environment, bool, error) {
	advanced := false
	env, err := m.Mutate(ctx, environmentID, func(env *models.Environment) (bool, error) {
		if env.CurrentPhase != fromPhase || env.PhaseStartTime == nil || !env.PhaseStartTime.Equal(expectedStart) {
			return false, nil
		}
		if _, err := m.catalog.Phase(env.SpeciesID, toPhase); err != nil {
			return false, err
		}
		now := m.clock.Now()
		env.CurrentPhase = toPhase
		env.PhaseStartTime = &now
		advanced = true
		return true, nil
	})
	if err != nil {
		return nil, false, err
	}
	if !advanced {
		m.logger.Info("Phase changed concurrently, skipping auto advance",
			zap.String("environment_id", environmentID),
			zap.String("expected", fromPhase),
			zap.String("current", env.CurrentPhase),
		)
	}
	return env, advanced, nil
}

// SetOverride 替换手动覆盖设置；duration>0 时设置过期时间
func (m *Manager) SetOverride(ctx context.Context, environmentID string, values map[string]models.OverrideValue, duration time.Duration) (*models.Environment, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: override settings are empty", models.ErrValidation)
	}
	for key, v := range values {
		if !models.ValidOverrideKey(key) {
			return nil, fmt.Errorf("%w: unknown override key %q", models.ErrValidation, key)
		}
		if v.State == nil && v.Value == nil {
			return nil, fmt.Errorf("%w: override %s has no value", models.ErrValidation, key)
		}
	}

	return m.Mutate(ctx, environmentID, func(env *models.Environment) (bool, error) {
		now := m.clock.Now()
		env.Overrides = make(map[string]models.OverrideValue, len(values))
		for k, v := range values {
			env.Overrides[k] = v
		}
		env.OverrideSetAt = &now
		env.OverrideExpiry = nil
		if duration > 0 {
			expiry := now.Add(duration)
			env.OverrideExpiry = &expiry
		}
		m.logger.Info("Manual override set",
			zap.String("environment_id", env.ID),
			zap.Int("keys", len(values)),
			zap.Duration("duration", duration),
		)
		return true, nil
	})
}

// ClearOverride 清除手动覆盖
func (m *Manager) ClearOverride(ctx context.Context, environmentID string) (*models.Environment, error) {
	return m.Mutate(ctx, environmentID, func(env *models.Environment) (bool, error) {
		if len(env.Overrides) == 0 && env.OverrideExpiry == nil {
			return false, nil
		}
		env.Overrides = nil
		env.OverrideSetAt = nil
		env.OverrideExpiry = nil
		return true, nil
	})
}

// ApplyReading 写入最新传感器快照（早于当前快照的读数被忽略）
func (m *Manager) ApplyReading(ctx context.Context, reading *models.SensorReading) (*models.Environment, error) {
	return m.Mutate(ctx, reading.EnvironmentID, func(env *models.Environment) (bool, error) {
		if env.Latest != nil && reading.Timestamp.Before(env.Latest.Timestamp) {
			return false, nil
		}
		values := make(map[models.Parameter]float64, len(reading.Values))
		for k, v := range reading.Values {
			values[k] = v
		}
		quality := reading.Quality
		if quality == "" {
			quality = models.QualityGood
		}
		env.Latest = &models.SensorSnapshot{Values: values, Quality: quality, Timestamp: reading.Timestamp}
		return true, nil
	})
}

// SetStatus 设置环境状态（管理接口，如进入维护）
func (m *Manager) SetStatus(ctx context.Context, environmentID string, status models.EnvironmentStatus) (*models.Environment, error) {
	if _, err := models.ParseEnvironmentStatus(string(status)); err != nil {
		return nil, err
	}
	return m.Mutate(ctx, environmentID, func(env *models.Environment) (bool, error) {
		if env.Status == status {
			return false, nil
		}
		env.Status = status
		return true, nil
	})
}

// MarkDegraded 执行器命令重试耗尽后标记环境为 error
func (m *Manager) MarkDegraded(ctx context.Context, environmentID, reason string) error {
	_, err := m.Mutate(ctx, environmentID, func(env *models.Environment) (bool, error) {
		if env.Status == models.EnvironmentError {
			return false, nil
		}
		m.logger.Warn("Environment degraded",
			zap.String("environment_id", env.ID),
			zap.String("previous_status", string(env.Status)),
			zap.String("reason", reason),
		)
		env.Status = models.EnvironmentError
		return true, nil
	})
	return err
}

// UpdateAlertSettings 更新告警设置
func (m *Manager) UpdateAlertSettings(ctx context.Context, environmentID string, settings models.AlertSettings) (*models.Environment, error) {
	if settings.DelayMinutes < 0 {
		return nil, fmt.Errorf("%w: alert_delay_minutes must not be negative", models.ErrValidation)
	}
	return m.Mutate(ctx, environmentID, func(env *models.Environment) (bool, error) {
		env.Alerts = settings
		return true, nil
	})
}

// SetTickInterval 设置环境的评估间隔（0 表示使用全局默认）
func (m *Manager) SetTickInterval(ctx context.Context, environmentID string, interval time.Duration) (*models.Environment, error) {
	if interval < 0 {
		return nil, fmt.Errorf("%w: tick interval must not be negative", models.ErrValidation)
	}
	return m.Mutate(ctx, environmentID, func(env *models.Environment) (bool, error) {
		env.TickInterval = interval
		return true, nil
	})
}
