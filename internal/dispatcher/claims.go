package dispatcher

import (
	"sync"

	"mushroom-automation/internal/models"
)

// Claims 单个 tick 内的执行器占用表
// 同一执行器只接受第一条（优先级最高的）规则的命令，后续规则的冲突命令被跳过
type Claims struct {
	mu     sync.Mutex
	owners map[models.ActuatorType]string
}

// NewClaims 创建占用表（每个 tick 一个）
func NewClaims() *Claims {
	return &Claims{owners: make(map[models.ActuatorType]string)}
}

// Claim 占用执行器；已被其他规则占用时返回占用者和 false
func (c *Claims) Claim(actuator models.ActuatorType, ruleID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[actuator]
	if ok && owner != ruleID {
		return owner, false
	}
	c.owners[actuator] = ruleID
	return ruleID, true
}

// Owner 查询执行器的占用者
func (c *Claims) Owner(actuator models.ActuatorType) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[actuator]
	return owner, ok
}
