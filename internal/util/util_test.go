package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeInput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "ABCD-1234", "ABCD-1234"},
		{"surrounding whitespace", "  ABCD-1234\n", "ABCD-1234"},
		{"full width", "ＡＢＣＤ－１２３４", "ABCD-1234"},
		{"empty", "", ""},
		{"blank", " \t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeInput(tt.in))
		})
	}
}
