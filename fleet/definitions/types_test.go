package definitions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTimeWindowContains(t *testing.T) {
	tests := []struct {
		name   string
		window TimeWindow
		hour   int
		want   bool
	}{
		{"inside plain range", TimeWindow{Start: 9, End: 17}, 9, true},
		{"end is exclusive", TimeWindow{Start: 9, End: 17}, 17, false},
		{"outside plain range", TimeWindow{Start: 0, End: 2}, 16, false},
		{"start equals end is always active", TimeWindow{Start: 0, End: 0}, 16, true},
		{"wrapped window excludes afternoon", TimeWindow{Start: 22, End: 4}, 16, false},
		{"wrapped window includes late evening", TimeWindow{Start: 22, End: 4}, 23, true},
		{"wrapped window includes early morning", TimeWindow{Start: 22, End: 4}, 2, true},
		{"wrapped window end exclusive", TimeWindow{Start: 22, End: 4}, 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.window.Contains(tt.hour))
		})
	}
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("22-4")
	require.NoError(t, err)
	assert.Equal(t, TimeWindow{Start: 22, End: 4}, w)

	w, err = ParseWindow(" 9 - 17 ")
	require.NoError(t, err)
	assert.Equal(t, TimeWindow{Start: 9, End: 17}, w)

	_, err = ParseWindow("22")
	assert.Error(t, err)

	_, err = ParseWindow("a-b")
	assert.Error(t, err)

	_, err = ParseWindow("25-4")
	assert.Error(t, err)
}

func TestTimeWindowUnmarshalYAML(t *testing.T) {
	var scalar struct {
		Window TimeWindow `yaml:"window"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(`window: 22-4`), &scalar))
	assert.Equal(t, TimeWindow{Start: 22, End: 4}, scalar.Window)

	var mapping struct {
		Window TimeWindow `yaml:"window"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("window:\n  start: 9\n  end: 17"), &mapping))
	assert.Equal(t, TimeWindow{Start: 9, End: 17}, mapping.Window)

	var bad struct {
		Window TimeWindow `yaml:"window"`
	}
	assert.Error(t, yaml.Unmarshal([]byte(`window: 9-25`), &bad))
}

func TestAccountActiveAt(t *testing.T) {
	unwindowed := Account{ID: "a"}
	for hour := 0; hour < 24; hour++ {
		assert.True(t, unwindowed.ActiveAt(hour), "hour %d", hour)
	}

	night := Account{ID: "b", Windows: []TimeWindow{{Start: 22, End: 4}}}
	assert.True(t, night.ActiveAt(23))
	assert.False(t, night.ActiveAt(12))

	split := Account{ID: "c", Windows: []TimeWindow{{Start: 8, End: 10}, {Start: 20, End: 22}}}
	assert.True(t, split.ActiveAt(9))
	assert.True(t, split.ActiveAt(21))
	assert.False(t, split.ActiveAt(15))
}
