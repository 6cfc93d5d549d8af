package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want []int
	}{
		{"mixed ranges and singles", "1-3,5,8-10", []int{1, 2, 3, 5, 8, 9, 10}},
		{"single", "7", []int{7}},
		{"descending range contributes nothing", "5-3", []int{}},
		{"non-numeric dropped", "abc", []int{}},
		{"malformed range dropped", "1-x,4", []int{4}},
		{"unsorted input", "9,2,5", []int{2, 5, 9}},
		{"duplicates removed", "1-3,2,3-4", []int{1, 2, 3, 4}},
		{"whitespace tolerated", " 1 , 3 - 4 ", []int{1, 3, 4}},
		{"empty tokens", ",,2,", []int{2}},
		{"zero dropped", "0,1", []int{1}},
		{"range clipped to positive", "0-2", []int{1, 2}},
		{"empty expression", "", []int{}},
		{"huge range dropped", "1-100000,6", []int{6}},
		{"range at int limit dropped", "9223372036854775806-9223372036854775807", []int{}},
		{"range above identifier ceiling dropped", "2147483647-2147483648,4", []int{4}},
		{"range ending at identifier ceiling", "2147483646-2147483647", []int{2147483646, 2147483647}},
		{"number above identifier ceiling dropped", "9223372036854775807,2", []int{2}},
		{"overflowing number dropped", "99999999999999999999,3", []int{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.expr))
		})
	}
}

func TestParse_Idempotent(t *testing.T) {
	expr := "10-12,3,7-8,3"
	first := Parse(expr)
	second := Parse(expr)
	assert.Equal(t, first, second)
	assert.Equal(t, first, Parse(Format(first)))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		ids  []int
		want string
	}{
		{nil, ""},
		{[]int{7}, "7"},
		{[]int{1, 2, 3, 5}, "1-3,5"},
		{[]int{1, 2, 3, 5, 8, 9, 10}, "1-3,5,8-10"},
		{[]int{2, 4, 6}, "2,4,6"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.ids))
	}
}
