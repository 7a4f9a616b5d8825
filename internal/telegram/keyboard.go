package telegram

import (
	"github.com/go-telegram/bot/models"
	"github.com/set-night/chanpay/internal/domain"
)

// InlineButton creates a single inline keyboard button.
func InlineButton(text, callbackData string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// URLButton creates a URL inline keyboard button.
func URLButton(text, url string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text: text,
		URL:  url,
	}
}

// InlineKeyboard creates an inline keyboard from rows of buttons.
func InlineKeyboard(rows ...[]models.InlineKeyboardButton) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// ButtonRow creates a row of inline buttons.
func ButtonRow(buttons ...models.InlineKeyboardButton) []models.InlineKeyboardButton {
	return buttons
}

// Keyboard converts message actions into an inline keyboard. It returns nil
// when there is nothing to show.
func Keyboard(actions [][]domain.Action) *models.InlineKeyboardMarkup {
	rows := make([][]models.InlineKeyboardButton, 0, len(actions))
	for _, row := range actions {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, a := range row {
			if a.URL != "" {
				buttons = append(buttons, URLButton(a.Label, a.URL))
				continue
			}
			buttons = append(buttons, InlineButton(a.Label, a.Data))
		}
		if len(buttons) > 0 {
			rows = append(rows, buttons)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return InlineKeyboard(rows...)
}
