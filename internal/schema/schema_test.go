package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/weather-tracker/internal/record"
)

func TestSchema_WeatherHeader(t *testing.T) {
	s := Weather("")
	assert.Equal(t, []string{"Date", "Temperature", "Condition", "Humidity", "Wind"}, s.Header())
	assert.Equal(t, "Date", s.DateColumn())
	assert.Equal(t, "", s.IDColumn())
	assert.Equal(t, []string{"Temperature", "Humidity", "Wind"}, s.NumericFields())
	assert.Equal(t, []string{"Condition"}, s.CategoricalFields())
}

func TestSchema_MatchesHeader(t *testing.T) {
	s := Plants("")
	assert.True(t, s.MatchesHeader([]string{"\ufeffid", "name", "location", "date_acquired", "watering_freq", "sunlight", "photo_path", "notes"}))
	assert.False(t, s.MatchesHeader([]string{"id", "name"}))
	assert.False(t, s.MatchesHeader([]string{"id", "name", "location", "acquired", "watering_freq", "sunlight", "photo_path", "notes"}))
}

func TestSchema_DecodeEncode(t *testing.T) {
	s := Weather("")
	obs, err := s.Decode([]string{"01-15-2025", "21.5", "Sunny", "55", "12"}, 2)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), obs.Timestamp)
	temp, ok := obs.Float(FieldTemperature)
	require.True(t, ok)
	assert.Equal(t, 21.5, temp)
	assert.Equal(t, "Sunny", obs.Get(FieldCondition).String())

	assert.Equal(t, []string{"01-15-2025", "21.5", "Sunny", "55", "12"}, s.Encode(obs))
}

func TestSchema_DecodeBadTimestamp(t *testing.T) {
	s := Weather("")
	_, err := s.Decode([]string{"2025-01-15", "21.5", "Sunny", "55", "12"}, 7)

	var parseErr *record.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, 7, parseErr.Line)
	assert.Equal(t, FieldDate, parseErr.Field)
}

func TestSchema_DecodeColumnCount(t *testing.T) {
	s := Weather("")
	_, err := s.Decode([]string{"01-15-2025", "21.5"}, 3)

	var parseErr *record.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, 3, parseErr.Line)
}

func TestSchema_PrepareDefaultsMissingFields(t *testing.T) {
	s := Weather("")
	obs := record.New(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)).
		Set(FieldTemperature, record.Number(18))

	out, err := s.Prepare(obs)
	require.NoError(t, err)
	assert.Len(t, out.Fields, 4)
	assert.True(t, out.Get(FieldCondition).IsEmpty())
	assert.True(t, out.Get(FieldHumidity).IsEmpty())
}

func TestSchema_PrepareParsesNumericText(t *testing.T) {
	s := Water("")
	obs := record.New(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)).
		Set(FieldHousehold, record.Text("north")).
		Set(FieldUsageLiters, record.Text(" 120.5 "))

	out, err := s.Prepare(obs)
	require.NoError(t, err)
	v, ok := out.Float(FieldUsageLiters)
	require.True(t, ok)
	assert.Equal(t, 120.5, v)
}

func TestSchema_PrepareRejects(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := Weather("")

	tests := []struct {
		name  string
		obs   record.Observation
		field string
	}{
		{"negative humidity", record.New(day).Set(FieldHumidity, record.Number(-4)), FieldHumidity},
		{"humidity over 100", record.New(day).Set(FieldHumidity, record.Number(101)), FieldHumidity},
		{"non numeric wind", record.New(day).Set(FieldWind, record.Text("breezy")), FieldWind},
		{"unknown field", record.New(day).Set("Pressure", record.Number(1013)), "Pressure"},
		{"date as field", record.New(day).Set(FieldDate, record.Text("03-01-2025")), FieldDate},
		{"missing timestamp", record.Observation{}, FieldDate},
		{"line break", record.New(day).Set(FieldCondition, record.Text("Sunny\nx")), FieldCondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Prepare(tt.obs)
			var vErr *record.ValidationError
			require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestSchema_PrepareUnknownFieldSentinel(t *testing.T) {
	s := Water("")
	obs := record.New(time.Now()).Set("color", record.Text("blue"))
	_, err := s.Prepare(obs)
	assert.ErrorIs(t, err, record.ErrUnknownField)
}

func TestSchema_PrepareRequired(t *testing.T) {
	s := Water("")
	obs := record.New(time.Now()).Set(FieldUsageLiters, record.Number(10))
	_, err := s.Prepare(obs)

	var vErr *record.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, FieldHousehold, vErr.Field)
}

func TestByName(t *testing.T) {
	for _, name := range []string{NameWeather, NamePlants, NameWatering, NameWater} {
		s, err := ByName(name, "")
		require.NoError(t, err)
		assert.Equal(t, name, s.Name)
		assert.NotEmpty(t, s.DateColumn())
	}

	_, err := ByName("solar", "")
	assert.Error(t, err)
}
