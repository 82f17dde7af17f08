package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeValve(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Lahti", "open"},
		{"lahti", "open"},
		{"KINNI", "closed"},
		{"open", "open"},
		{"opened", "open"},
		{"on", "open"},
		{"1", "open"},
		{"true", "open"},
		{"closed", "closed"},
		{"off", "closed"},
		{"0", "closed"},
		{"false", "closed"},
		{"", "?"},
		{"maintenance", "maintenance"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeValve(tt.raw))
		})
	}
}
