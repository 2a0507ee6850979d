package quests

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ValidationError: ошибка ввода, текст показывается пользователю как есть
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(msg string) error { return &ValidationError{Message: msg} }

// NormalizeWallet проверяет формат адреса Solana (без base58-декодирования)
func NormalizeWallet(wallet string) (string, error) {
	w := strings.TrimSpace(wallet)
	if w == "" {
		return "", invalid("Wallet address cannot be empty.")
	}
	if n := utf8.RuneCountInString(w); n < 32 || n > 64 {
		return "", invalid("Wallet address must be between 32 and 64 characters.")
	}
	if strings.IndexFunc(w, unicode.IsSpace) >= 0 {
		return "", invalid("Wallet address cannot contain whitespace.")
	}
	if strings.IndexFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) }) >= 0 {
		return "", invalid("Wallet address must be alphanumeric.")
	}
	return w, nil
}
