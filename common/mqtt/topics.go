package mqtt

import (
	"fmt"
	"strings"
)

// SensorTopic 传感器上报主题：{prefix}/{environment_id}/sensors
func SensorTopic(prefix, environmentID string) string {
	return fmt.Sprintf("%s/%s/sensors", prefix, environmentID)
}

// SensorWildcard 订阅全部环境的传感器主题
func SensorWildcard(prefix string) string {
	return prefix + "/+/sensors"
}

// ActuatorSetTopic 执行器命令主题：{prefix}/{environment_id}/actuators/{type}/set
func ActuatorSetTopic(prefix, environmentID, actuatorType string) string {
	return fmt.Sprintf("%s/%s/actuators/%s/set", prefix, environmentID, actuatorType)
}

// ActuatorAckTopic 执行器确认主题：{prefix}/{environment_id}/actuators/ack
func ActuatorAckTopic(prefix, environmentID string) string {
	return fmt.Sprintf("%s/%s/actuators/ack", prefix, environmentID)
}

// ActuatorAckWildcard 订阅全部环境的执行器确认主题
func ActuatorAckWildcard(prefix string) string {
	return prefix + "/+/actuators/ack"
}

// EnvironmentFromTopic 从主题中解析环境ID（主题格式 {prefix}/{environment_id}/...）
func EnvironmentFromTopic(prefix, topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != prefix || parts[1] == "" {
		return "", fmt.Errorf("invalid topic format: %s", topic)
	}
	return parts[1], nil
}
