package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected []string
	}{
		{name: "empty", raw: "", expected: nil},
		{name: "only separators", raw: " , ,", expected: nil},
		{name: "single", raw: "localhost:9092", expected: []string{"localhost:9092"}},
		{
			name:     "trims and drops empties",
			raw:      " http://a.test , ,http://b.test",
			expected: []string{"http://a.test", "http://b.test"},
		},
		{
			name:     "keeps first occurrence",
			raw:      "b:9092,a:9092,b:9092",
			expected: []string{"b:9092", "a:9092"},
		},
		{
			name:     "case sensitive",
			raw:      "http://A.test,http://a.test",
			expected: []string{"http://A.test", "http://a.test"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitList(tt.raw))
		})
	}
}

func TestDedupe_Nil(t *testing.T) {
	assert.Nil(t, Dedupe(nil))
}
