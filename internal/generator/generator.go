// Package generator produces seeded synthetic datasets for demos and tests.
package generator

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/smukkama/weather-tracker/internal/record"
	"github.com/smukkama/weather-tracker/internal/schema"
)

// Conditions and their relative weights, biased toward fair weather
var (
	Conditions = []string{"Sunny", "Cloudy", "Rainy", "Stormy", "Windy", "Foggy"}
	weights    = []int{40, 25, 20, 5, 6, 4}
)

// Activity is a kind of household water use with a typical range in liters
type Activity struct {
	Name string
	Min  int
	Max  int
	// Chance of the activity happening on a given day, in percent
	Chance int
}

// Activities used by the water generator
var Activities = []Activity{
	{Name: "Shower", Min: 40, Max: 120, Chance: 100},
	{Name: "Toilet", Min: 30, Max: 90, Chance: 100},
	{Name: "Cooking", Min: 10, Max: 40, Chance: 90},
	{Name: "Dishes", Min: 15, Max: 60, Chance: 70},
	{Name: "Laundry", Min: 50, Max: 150, Chance: 40},
	{Name: "Garden", Min: 100, Max: 600, Chance: 25},
}

// Generator is a deterministic source of synthetic rows
type Generator struct {
	rng *rand.Rand
}

// New creates a generator; the same seed always yields the same rows
func New(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Weather returns one row per day of year with seasonal temperatures
func (g *Generator) Weather(year int) []record.Observation {
	var rows []record.Observation
	for day := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC); day.Year() == year; day = day.AddDate(0, 0, 1) {
		temp := g.seasonalTemp(day.Month())
		temp = int(math.Trunc(float64(temp) + g.rng.NormFloat64()*2))

		cond := g.condition()
		rows = append(rows, record.New(day).
			Set(schema.FieldTemperature, record.Number(float64(temp))).
			Set(schema.FieldCondition, record.Text(cond)).
			Set(schema.FieldHumidity, record.Number(float64(g.humidity(cond)))).
			Set(schema.FieldWind, record.Number(float64(g.between(3, 30)))))
	}
	return rows
}

// Water returns the daily activities of each household for the year
func (g *Generator) Water(year int, households ...string) []record.Observation {
	if len(households) == 0 {
		households = []string{"home"}
	}

	var rows []record.Observation
	for day := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC); day.Year() == year; day = day.AddDate(0, 0, 1) {
		for _, h := range households {
			for _, a := range Activities {
				if g.between(1, 100) > a.Chance {
					continue
				}
				liters := a.Min + g.rng.IntN(a.Max-a.Min+1)
				if a.Name == "Garden" && isSummer(day.Month()) {
					liters += g.between(0, 300)
				}
				rows = append(rows, record.New(day).
					Set(schema.FieldHousehold, record.Text(h)).
					Set(schema.FieldUsageLiters, record.Number(float64(liters))).
					Set(schema.FieldActivity, record.Text(a.Name)))
			}
		}
	}
	return rows
}

// seasonalTemp draws a plausible base temperature in Celsius for a month
func (g *Generator) seasonalTemp(m time.Month) int {
	switch m {
	case time.December, time.January, time.February:
		return g.between(8, 20)
	case time.March, time.April, time.May:
		return g.between(15, 26)
	case time.June, time.July, time.August:
		return g.between(25, 40)
	default:
		return g.between(18, 30)
	}
}

func (g *Generator) condition() string {
	total := 0
	for _, w := range weights {
		total += w
	}
	n := g.rng.IntN(total)
	for i, w := range weights {
		if n < w {
			return Conditions[i]
		}
		n -= w
	}
	return Conditions[0]
}

// humidity is higher when it is wet
func (g *Generator) humidity(cond string) int {
	switch cond {
	case "Rainy":
		return g.between(70, 95)
	case "Stormy":
		return g.between(75, 98)
	case "Foggy":
		return g.between(80, 95)
	default:
		return g.between(35, 80)
	}
}

// between returns an int in [lo, hi]
func (g *Generator) between(lo, hi int) int {
	return lo + g.rng.IntN(hi-lo+1)
}

func isSummer(m time.Month) bool {
	return m >= time.June && m <= time.August
}
