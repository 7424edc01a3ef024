package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tip", "/tip"},
		{"/tip 2.5 @bob", "/tip"},
		{"/tip@stx_tip_bot 2.5", "/tip"},
		{"/start@stx_tip_bot", "/start"},
		{"/balance", "/balance"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, commandToken(tt.in), tt.in)
	}
}
