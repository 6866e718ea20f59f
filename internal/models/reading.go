package models

import (
	"fmt"
	"time"
)

// SensorReading 传感器读数（只追加，不修改）
type SensorReading struct {
	EnvironmentID string                `json:"environment_id"`
	Timestamp     time.Time             `json:"timestamp"`
	Values        map[Parameter]float64 `json:"values"`
	Quality       ReadingQuality        `json:"quality"`
	SensorType    string                `json:"sensor_type,omitempty"`
}

// Value 获取某通道的值
func (r *SensorReading) Value(p Parameter) (float64, bool) {
	if r == nil || r.Values == nil {
		return 0, false
	}
	v, ok := r.Values[p]
	return v, ok
}

// Validate 校验读数
func (r *SensorReading) Validate() error {
	if r.EnvironmentID == "" {
		return fmt.Errorf("%w: reading has no environment_id", ErrValidation)
	}
	if len(r.Values) == 0 {
		return fmt.Errorf("%w: reading has no channel values", ErrValidation)
	}
	for p := range r.Values {
		if p == ParamHour {
			return fmt.Errorf("%w: hour is derived, not a sensor channel", ErrValidation)
		}
		if _, err := ParseParameter(string(p)); err != nil {
			return err
		}
	}
	if _, err := ParseReadingQuality(string(r.Quality)); err != nil {
		return err
	}
	return nil
}

// Clone 深拷贝
func (r *SensorReading) Clone() *SensorReading {
	if r == nil {
		return nil
	}
	c := *r
	c.Values = make(map[Parameter]float64, len(r.Values))
	for k, v := range r.Values {
		c.Values[k] = v
	}
	return &c
}
