package types

import (
	"errors"
	"strings"
	"unicode/utf16"
)

// MaxChatMessageLength is the chat bound in UTF-16 code units, matching what
// browser clients measure with String.length.
const MaxChatMessageLength = 1000

var (
	ErrEmptyChatMessage   = errors.New("message cannot be empty")
	ErrChatMessageTooLong = errors.New("message too long (max 1000 characters)")
)

// ValidateChatMessage checks the raw message text before it is trimmed and
// appended to a room's buffer. Whitespace-only messages count as empty; the
// length bound applies to the untrimmed text.
func ValidateChatMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyChatMessage
	}
	if len(utf16.Encode([]rune(message))) > MaxChatMessageLength {
		return ErrChatMessageTooLong
	}
	return nil
}
