package catalog

import (
	"fmt"
	"sort"
	"strings"

	"mushroom-automation/internal/models"
)

// Catalog 菇种与生长阶段目录（启动时加载，运行期只读，可并发读取）
type Catalog struct {
	species map[string]*models.Species
	order   []string
}

// New 构建目录并校验每个品种的阶段序号从1开始连续递增
func New(species []models.Species) (*Catalog, error) {
	c := &Catalog{species: make(map[string]*models.Species, len(species))}
	for i := range species {
		s := species[i]
		if s.ID == "" {
			return nil, fmt.Errorf("%w: species %q has no id", models.ErrValidation, s.Name)
		}
		if _, exists := c.species[s.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate species id %s", models.ErrValidation, s.ID)
		}

		phases := append([]models.Phase(nil), s.Phases...)
		sort.SliceStable(phases, func(a, b int) bool { return phases[a].OrderIndex < phases[b].OrderIndex })
		seen := make(map[string]bool, len(phases))
		for idx := range phases {
			if phases[idx].OrderIndex != idx+1 {
				return nil, fmt.Errorf("%w: species %s phase order indices must be contiguous from 1 (got %d at position %d)",
					models.ErrValidation, s.ID, phases[idx].OrderIndex, idx+1)
			}
			if seen[phases[idx].Name] {
				return nil, fmt.Errorf("%w: species %s has duplicate phase %s", models.ErrValidation, s.ID, phases[idx].Name)
			}
			seen[phases[idx].Name] = true
			phases[idx].SpeciesID = s.ID
		}
		s.Phases = phases

		c.species[s.ID] = &s
		c.order = append(c.order, s.ID)
	}
	return c, nil
}

// Default 使用内置的六个菇种构建目录
func Default() *Catalog {
	c, err := New(SeedSpecies())
	if err != nil {
		// 内置数据不合法属于编程错误
		panic(err)
	}
	return c
}

// Species 根据ID获取品种
func (c *Catalog) Species(speciesID string) (*models.Species, error) {
	s, ok := c.species[speciesID]
	if !ok {
		return nil, fmt.Errorf("%w: species %s", models.ErrNotFound, speciesID)
	}
	cp := *s
	cp.Phases = append([]models.Phase(nil), s.Phases...)
	return &cp, nil
}

// SpeciesByName 按名称查找品种（不区分大小写，也匹配学名）
func (c *Catalog) SpeciesByName(name string) (*models.Species, error) {
	for _, id := range c.order {
		s := c.species[id]
		if strings.EqualFold(s.Name, name) || strings.EqualFold(s.ScientificName, name) {
			return c.Species(id)
		}
	}
	return nil, fmt.Errorf("%w: species named %q", models.ErrNotFound, name)
}

// List 按加载顺序返回全部品种
func (c *Catalog) List() []models.Species {
	out := make([]models.Species, 0, len(c.order))
	for _, id := range c.order {
		s, _ := c.Species(id)
		out = append(out, *s)
	}
	return out
}

// PhasesFor 获取品种的有序阶段列表
func (c *Catalog) PhasesFor(speciesID string) ([]models.Phase, error) {
	s, ok := c.species[speciesID]
	if !ok {
		return nil, fmt.Errorf("%w: species %s", models.ErrNotFound, speciesID)
	}
	return append([]models.Phase(nil), s.Phases...), nil
}

// Phase 获取品种下的指定阶段
func (c *Catalog) Phase(speciesID, phaseName string) (*models.Phase, error) {
	phases, err := c.PhasesFor(speciesID)
	if err != nil {
		return nil, err
	}
	for i := range phases {
		if phases[i].Name == phaseName {
			return &phases[i], nil
		}
	}
	return nil, fmt.Errorf("%w: phase %s in species %s", models.ErrNotFound, phaseName, speciesID)
}

// FirstPhase 获取品种的第一个阶段
func (c *Catalog) FirstPhase(speciesID string) (*models.Phase, error) {
	phases, err := c.PhasesFor(speciesID)
	if err != nil {
		return nil, err
	}
	if len(phases) == 0 {
		return nil, fmt.Errorf("%w: species %s has no phases", models.ErrNotFound, speciesID)
	}
	return &phases[0], nil
}

// PhaseAfter 获取下一阶段；当前为最后阶段时返回 nil（批次完成，不是错误）
func (c *Catalog) PhaseAfter(speciesID, phaseName string) (*models.Phase, error) {
	current, err := c.Phase(speciesID, phaseName)
	if err != nil {
		return nil, err
	}
	phases := c.species[speciesID].Phases
	if current.OrderIndex >= len(phases) {
		return nil, nil
	}
	next := phases[current.OrderIndex] // OrderIndex 从1开始，下标即下一阶段
	return &next, nil
}
