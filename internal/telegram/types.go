package telegram

// Minimal Bot API payload types; only the fields this bot reads.

// Update is one element of a getUpdates response.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Message is an incoming or sent chat message.
type Message struct {
	MessageID   int64  `json:"message_id"`
	From        *User  `json:"from"`
	Chat        Chat   `json:"chat"`
	Date        int64  `json:"date"`
	Text        string `json:"text"`
	ForwardFrom *User  `json:"forward_from"`
	ForwardDate int64  `json:"forward_date"`
}

// User identifies a Telegram account.
type User struct {
	ID       int64  `json:"id"`
	IsBot    bool   `json:"is_bot"`
	Username string `json:"username"`
}

// Chat identifies a conversation.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// IsGroup reports whether the chat is a group or supergroup.
func (c Chat) IsGroup() bool {
	return c.Type == "group" || c.Type == "supergroup"
}

// CallbackQuery is a button press on an inline keyboard.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// InlineKeyboardButton is a single callback button.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboard builds a reply_markup payload from button rows.
type InlineKeyboard struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// Rows is a convenience constructor: one button per row.
func Rows(buttons ...InlineKeyboardButton) *InlineKeyboard {
	rows := make([][]InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		rows = append(rows, []InlineKeyboardButton{b})
	}
	return &InlineKeyboard{InlineKeyboard: rows}
}
