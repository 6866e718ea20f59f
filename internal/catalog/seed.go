package catalog

import "mushroom-automation/internal/models"

// SeedSpecies 内置菇种数据（六个常见品种及其生长阶段）
func SeedSpecies() []models.Species {
	return []models.Species{
		{
			ID:              "lions-mane",
			Name:            "Lion's Mane",
			ScientificName:  "Hericium erinaceus",
			Description:     "A distinctive white, shaggy mushroom with cascading spines.",
			Defaults: models.EnvironmentalRanges{
				Temperature:     models.Range{Min: 18, Max: 24},
				Humidity:        models.Range{Min: 85, Max: 95},
				CO2:             models.Range{Min: 500, Max: 1000},
				LightHours:      12,
				FAECyclesPerDay: 4,
			},
			TypicalGrowDays: 21,
			Difficulty:      "beginner",
			Phases: []models.Phase{
				phase("colonization", 1, "Initial mycelium growth phase", models.Range{Min: 20, Max: 24}, models.Range{Min: 90, Max: 95}, models.Range{Min: 1000, Max: 5000}, 0, 0, 0, 10, true),
				phase("fruiting", 2, "Mushroom formation and growth phase", models.Range{Min: 16, Max: 20}, models.Range{Min: 85, Max: 90}, models.Range{Min: 400, Max: 800}, 12, 6, 3, 11, false),
			},
		},
		{
			ID:              "shiitake",
			Name:            "Shiitake",
			ScientificName:  "Lentinula edodes",
			Description:     "Popular brown mushroom with a rich, smoky flavor.",
			Defaults: models.EnvironmentalRanges{
				Temperature:     models.Range{Min: 12, Max: 25},
				Humidity:        models.Range{Min: 80, Max: 95},
				CO2:             models.Range{Min: 500, Max: 1000},
				LightHours:      12,
				FAECyclesPerDay: 4,
			},
			TypicalGrowDays: 35,
			Difficulty:      "intermediate",
			Phases: []models.Phase{
				phase("colonization", 1, "Extended mycelium colonization phase", models.Range{Min: 22, Max: 25}, models.Range{Min: 90, Max: 95}, models.Range{Min: 2000, Max: 5000}, 0, 0, 0, 21, false),
				phase("consolidation", 2, "Mycelium strengthening and preparation phase", models.Range{Min: 20, Max: 23}, models.Range{Min: 85, Max: 90}, models.Range{Min: 1000, Max: 2000}, 8, 2, 0, 7, false),
				phase("fruiting", 3, "Temperature shock and mushroom formation", models.Range{Min: 12, Max: 18}, models.Range{Min: 80, Max: 85}, models.Range{Min: 400, Max: 800}, 12, 6, 4, 7, false),
			},
		},
		{
			ID:              "blue-oyster",
			Name:            "Blue Oyster",
			ScientificName:  "Pleurotus columbinus",
			Description:     "Fast-growing blue-gray oyster mushroom with high yields.",
			Defaults: models.EnvironmentalRanges{
				Temperature:     models.Range{Min: 10, Max: 24},
				Humidity:        models.Range{Min: 85, Max: 95},
				CO2:             models.Range{Min: 500, Max: 1000},
				LightHours:      12,
				FAECyclesPerDay: 6,
			},
			TypicalGrowDays: 14,
			Difficulty:      "beginner",
			Phases: []models.Phase{
				phase("colonization", 1, "Rapid mycelium growth phase", models.Range{Min: 20, Max: 24}, models.Range{Min: 90, Max: 95}, models.Range{Min: 1000, Max: 5000}, 0, 0, 0, 7, true),
				phase("fruiting", 2, "Cool temperature fruiting phase", models.Range{Min: 10, Max: 18}, models.Range{Min: 85, Max: 90}, models.Range{Min: 400, Max: 800}, 12, 8, 4, 7, false),
			},
		},
		{
			ID:              "pink-oyster",
			Name:            "Pink Oyster",
			ScientificName:  "Pleurotus djamor",
			Description:     "Vibrant pink mushroom that prefers warmer temperatures.",
			Defaults: models.EnvironmentalRanges{
				Temperature:     models.Range{Min: 18, Max: 30},
				Humidity:        models.Range{Min: 85, Max: 95},
				CO2:             models.Range{Min: 500, Max: 1000},
				LightHours:      12,
				FAECyclesPerDay: 6,
			},
			TypicalGrowDays: 12,
			Difficulty:      "beginner",
			Phases: []models.Phase{
				phase("colonization", 1, "Warm temperature colonization", models.Range{Min: 24, Max: 30}, models.Range{Min: 90, Max: 95}, models.Range{Min: 1000, Max: 5000}, 0, 0, 0, 5, true),
				phase("fruiting", 2, "Warm fruiting phase", models.Range{Min: 18, Max: 26}, models.Range{Min: 85, Max: 90}, models.Range{Min: 400, Max: 800}, 12, 8, 5, 7, false),
			},
		},
		{
			ID:              "king-oyster",
			Name:            "King Oyster",
			ScientificName:  "Pleurotus eryngii",
			Description:     "Large, meaty mushroom with thick stems.",
			Defaults: models.EnvironmentalRanges{
				Temperature:     models.Range{Min: 12, Max: 22},
				Humidity:        models.Range{Min: 85, Max: 95},
				CO2:             models.Range{Min: 500, Max: 1000},
				LightHours:      12,
				FAECyclesPerDay: 4,
			},
			TypicalGrowDays: 21,
			Difficulty:      "intermediate",
			Phases: []models.Phase{
				phase("colonization", 1, "Moderate temperature colonization", models.Range{Min: 18, Max: 22}, models.Range{Min: 90, Max: 95}, models.Range{Min: 1500, Max: 5000}, 0, 0, 0, 14, false),
				phase("fruiting", 2, "Cool fruiting with controlled CO2", models.Range{Min: 12, Max: 18}, models.Range{Min: 85, Max: 90}, models.Range{Min: 800, Max: 1200}, 12, 4, 3, 7, false),
			},
		},
		{
			ID:              "enoki",
			Name:            "Enoki",
			ScientificName:  "Flammulina velutipes",
			Description:     "Delicate, long-stemmed mushrooms with small caps.",
			Defaults: models.EnvironmentalRanges{
				Temperature:     models.Range{Min: 8, Max: 18},
				Humidity:        models.Range{Min: 90, Max: 95},
				CO2:             models.Range{Min: 1000, Max: 3000},
				LightHours:      4,
				FAECyclesPerDay: 2,
			},
			TypicalGrowDays: 28,
			Difficulty:      "advanced",
			Phases: []models.Phase{
				phase("colonization", 1, "Cool colonization phase", models.Range{Min: 15, Max: 18}, models.Range{Min: 90, Max: 95}, models.Range{Min: 2000, Max: 5000}, 0, 0, 0, 21, false),
				phase("fruiting", 2, "Cold fruiting with high CO2", models.Range{Min: 8, Max: 12}, models.Range{Min: 90, Max: 95}, models.Range{Min: 1000, Max: 3000}, 4, 2, 2, 7, false),
			},
		},
	}
}

// phase 构建阶段；最短/最长周期默认取典型周期的 -25% / +50%
func phase(name string, order int, desc string, temp, hum, co2 models.Range, lightHours float64, fae, misting, typicalDays int, auto bool) models.Phase {
	return models.Phase{
		Name:                name,
		OrderIndex:          order,
		Description:         desc,
		Temperature:         temp,
		Humidity:            hum,
		CO2:                 co2,
		LightHours:          lightHours,
		FAECyclesPerDay:     fae,
		MistingFrequency:    misting,
		TypicalDurationDays: typicalDays,
		MinDurationDays:     typicalDays - typicalDays/4,
		MaxDurationDays:     typicalDays + typicalDays/2,
		AutoTransition:      auto,
	}
}
