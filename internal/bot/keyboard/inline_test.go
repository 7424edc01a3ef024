package keyboard

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInlineKeyboardBuilder(t *testing.T) {
	markup := NewInlineKeyboard(testLog()).
		AddRow(
			InlineButton{Text: "✅ Confirm", Unique: "tip_confirm"},
			InlineButton{Text: "❌ Cancel", Unique: "tip_cancel"},
		).
		AddRow(InlineButton{Text: "💰 Check balance", Unique: "fund_balance", Data: "SPABC"}).
		Build()

	require.Len(t, markup.InlineKeyboard, 2)
	require.Len(t, markup.InlineKeyboard[0], 2)

	assert.Equal(t, "tip_confirm", markup.InlineKeyboard[0][0].Data)
	assert.Equal(t, "tip_cancel", markup.InlineKeyboard[0][1].Data)
	assert.Equal(t, "fund_balance:SPABC", markup.InlineKeyboard[1][0].Data)
}

func TestInlineKeyboardBuilder_SkipsOversizedButtons(t *testing.T) {
	markup := NewInlineKeyboard(testLog()).
		AddRow(
			InlineButton{Text: "ok", Unique: "fund_balance"},
			InlineButton{Text: "too big", Unique: "x", Data: strings.Repeat("y", 80)},
		).
		Build()

	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 1)
	assert.Equal(t, "fund_balance", markup.InlineKeyboard[0][0].Data)
}

func TestInlineKeyboardBuilder_EmptyRowsDropped(t *testing.T) {
	markup := NewInlineKeyboard(testLog()).AddRow().Build()
	assert.Empty(t, markup.InlineKeyboard)
}
