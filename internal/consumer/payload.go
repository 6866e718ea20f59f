package consumer

import (
	"encoding/json"
	"fmt"
	"time"

	"mushroom-automation/internal/models"
)

// ReadingSink 读数接收方（scheduler.Scheduler 实现）
type ReadingSink interface {
	Submit(environmentID string, reading *models.SensorReading) error
}

// SensorPayload 设备上报的传感器报文
// 设备按通道平铺上报，co2_level 为旧固件的字段名
type SensorPayload struct {
	Timestamp   int64    `json:"timestamp,omitempty"` // Unix 秒，缺省取接收时间
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	CO2         *float64 `json:"co2,omitempty"`
	CO2Level    *float64 `json:"co2_level,omitempty"`
	LightLevel  *float64 `json:"light_level,omitempty"`
	Airflow     *float64 `json:"airflow,omitempty"`
	Quality     string   `json:"quality,omitempty"`
	SensorType  string   `json:"sensor_type,omitempty"`
}

// ParseSensorPayload 解析设备报文并转换为标准读数
func ParseSensorPayload(environmentID string, payload []byte, receivedAt time.Time) (*models.SensorReading, error) {
	var p SensorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal sensor payload: %v", models.ErrValidation, err)
	}

	quality, err := models.ParseReadingQuality(p.Quality)
	if err != nil {
		return nil, err
	}

	reading := &models.SensorReading{
		EnvironmentID: environmentID,
		Timestamp:     receivedAt.UTC(),
		Values:        make(map[models.Parameter]float64),
		Quality:       quality,
		SensorType:    p.SensorType,
	}
	if p.Timestamp > 0 {
		reading.Timestamp = time.Unix(p.Timestamp, 0).UTC()
	}

	co2 := p.CO2
	if co2 == nil {
		co2 = p.CO2Level
	}
	channels := []struct {
		param models.Parameter
		value *float64
	}{
		{models.ParamTemperature, p.Temperature},
		{models.ParamHumidity, p.Humidity},
		{models.ParamCO2, co2},
		{models.ParamLightLevel, p.LightLevel},
		{models.ParamAirflow, p.Airflow},
	}
	for _, ch := range channels {
		if ch.value != nil {
			reading.Values[ch.param] = *ch.value
		}
	}

	if err := reading.Validate(); err != nil {
		return nil, err
	}
	return reading, nil
}

// decodeStreamReading 解析 Redis Stream 消息中的 data 字段
func decodeStreamReading(values map[string]interface{}) (*models.SensorReading, error) {
	raw, ok := values["data"]
	if !ok {
		return nil, fmt.Errorf("%w: stream message has no data field", models.ErrValidation)
	}
	data, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: stream data field is %T, not string", models.ErrValidation, raw)
	}

	var reading models.SensorReading
	if err := json.Unmarshal([]byte(data), &reading); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal stream reading: %v", models.ErrValidation, err)
	}
	if reading.Quality == "" {
		reading.Quality = models.QualityGood
	}
	if err := reading.Validate(); err != nil {
		return nil, err
	}
	return &reading, nil
}
