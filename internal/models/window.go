package models

import (
	"fmt"
	"time"
)

// HourWindow 规则生效小时窗口 [Start, End)，Start > End 时跨越午夜，Start == End 表示全天
type HourWindow struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Validate 小时取值 0-23
func (w HourWindow) Validate() error {
	if w.Start < 0 || w.Start > 23 || w.End < 0 || w.End > 23 {
		return fmt.Errorf("%w: active hours must be within 0-23, got %d-%d", ErrValidation, w.Start, w.End)
	}
	return nil
}

// Contains 判断时刻是否在窗口内
func (w HourWindow) Contains(t time.Time) bool {
	return inWindow(t.Hour(), w.Start, w.End)
}

// DayWindow 条件的每日时间窗口（分钟精度，规则同 HourWindow）
type DayWindow struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// ParseDayWindow 解析 "HH:MM" 形式的时间窗口
func ParseDayWindow(start, end string) (*DayWindow, error) {
	s, err := parseClock(start)
	if err != nil {
		return nil, err
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, err
	}
	return &DayWindow{StartMinute: s, EndMinute: e}, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid time of day %q", ErrValidation, v)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Validate 分钟取值 0-1439
func (w DayWindow) Validate() error {
	if w.StartMinute < 0 || w.StartMinute >= 1440 || w.EndMinute < 0 || w.EndMinute >= 1440 {
		return fmt.Errorf("%w: time window out of range", ErrValidation)
	}
	return nil
}

// Contains 判断时刻是否在窗口内
func (w DayWindow) Contains(t time.Time) bool {
	return inWindow(t.Hour()*60+t.Minute(), w.StartMinute, w.EndMinute)
}

func inWindow(v, start, end int) bool {
	switch {
	case start == end:
		return true
	case start < end:
		return v >= start && v < end
	default:
		return v >= start || v < end
	}
}
