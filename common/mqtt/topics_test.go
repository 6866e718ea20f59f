package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopics(t *testing.T) {
	assert.Equal(t, "mushroom/env-1/sensors", SensorTopic("mushroom", "env-1"))
	assert.Equal(t, "mushroom/+/sensors", SensorWildcard("mushroom"))
	assert.Equal(t, "mushroom/env-1/actuators/humidifier/set", ActuatorSetTopic("mushroom", "env-1", "humidifier"))
	assert.Equal(t, "mushroom/env-1/actuators/ack", ActuatorAckTopic("mushroom", "env-1"))
}

func TestEnvironmentFromTopic(t *testing.T) {
	envID, err := EnvironmentFromTopic("mushroom", "mushroom/env-7/sensors")
	require.NoError(t, err)
	assert.Equal(t, "env-7", envID)

	_, err = EnvironmentFromTopic("mushroom", "other/env-7/sensors")
	assert.Error(t, err)

	_, err = EnvironmentFromTopic("mushroom", "mushroom/sensors")
	assert.Error(t, err)
}
