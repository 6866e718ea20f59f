package models

// Range 闭区间目标范围
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains 值是否落在 [Min, Max] 内
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// EnvironmentalRanges 品种默认环境范围
type EnvironmentalRanges struct {
	Temperature     Range   `json:"temperature"`
	Humidity        Range   `json:"humidity"`
	CO2             Range   `json:"co2"`
	LightHours      float64 `json:"light_hours"`
	FAECyclesPerDay int     `json:"fae_cycles_per_day"`
}

// Species 菇种（运行期只读参考数据）
type Species struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	ScientificName  string              `json:"scientific_name"`
	Description     string              `json:"description,omitempty"`
	Defaults        EnvironmentalRanges `json:"defaults"`
	TypicalGrowDays int                 `json:"typical_grow_days"`
	Difficulty      string              `json:"difficulty"` // beginner, intermediate, advanced
	Phases          []Phase             `json:"phases"`
}

// Phase 生长阶段
type Phase struct {
	SpeciesID           string  `json:"species_id"`
	Name                string  `json:"name"`
	OrderIndex          int     `json:"order_index"`
	Description         string  `json:"description,omitempty"`
	Temperature         Range   `json:"temperature"`
	Humidity            Range   `json:"humidity"`
	CO2                 Range   `json:"co2"`
	LightHours          float64 `json:"light_hours"`
	FAECyclesPerDay     int     `json:"fae_cycles_per_day"`
	MistingFrequency    int     `json:"misting_frequency"` // 每日喷雾次数
	TypicalDurationDays int     `json:"typical_duration_days"`
	MinDurationDays     int     `json:"min_duration_days"`
	MaxDurationDays     int     `json:"max_duration_days"`
	AutoTransition      bool    `json:"auto_transition"`
}

// TargetFor 获取阶段对某参数的目标范围（仅温度/湿度/CO2 有范围）
func (p *Phase) TargetFor(param Parameter) (Range, bool) {
	switch param {
	case ParamTemperature:
		return p.Temperature, true
	case ParamHumidity:
		return p.Humidity, true
	case ParamCO2:
		return p.CO2, true
	}
	return Range{}, false
}

// MonitoredParameters 阈值监控覆盖的参数
var MonitoredParameters = []Parameter{ParamTemperature, ParamHumidity, ParamCO2}
