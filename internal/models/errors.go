package models

import "errors"

// 错误分类
var (
	// ErrNotFound 引用的品种/阶段/规则/环境/告警不存在
	ErrNotFound = errors.New("not found")
	// ErrValidation 规则、条件、动作或参数不合法（创建时拒绝）
	ErrValidation = errors.New("validation failed")
	// ErrDispatchFailure 执行器协作方不可达或返回错误
	ErrDispatchFailure = errors.New("dispatch failure")
	// ErrStateInconsistency 环境状态自相矛盾（如当前阶段不属于已分配品种）
	ErrStateInconsistency = errors.New("state inconsistency")
	// ErrInvalidTransition 告警状态机不允许的转换
	ErrInvalidTransition = errors.New("invalid transition")
)
