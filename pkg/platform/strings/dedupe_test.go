package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRoles(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil stays nil", input: nil, expected: nil},
		{name: "empty stays empty", input: []string{}, expected: []string{}},
		{name: "trims and drops blanks", input: []string{" supervisor ", "", "   "}, expected: []string{"supervisor"}},
		{
			name:     "keeps first occurrence order",
			input:    []string{"director", "supervisor", "director", " supervisor"},
			expected: []string{"director", "supervisor"},
		},
		{name: "case sensitive", input: []string{"Finance", "finance"}, expected: []string{"Finance", "finance"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeRoles(tt.input))
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList("   "))
	assert.Equal(t, []string{"manager", "finance"}, SplitList("manager, finance,,manager"))
}
