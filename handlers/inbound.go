package handlers

import (
	"strings"
	"unicode/utf16"

	"github.com/go-telegram/bot/models"

	"splguard/moderation"
)

// parseCommand разбирает "/cmd@bot args". Команда, адресованная другому боту, отбрасывается.
func parseCommand(text, botUsername string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	head = strings.TrimPrefix(head, "/")
	if name, target, found := strings.Cut(head, "@"); found {
		if botUsername != "" && !strings.EqualFold(target, botUsername) {
			return "", "", false
		}
		head = name
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// entityText вырезает текст сущности; смещения Telegram считаются в UTF-16
func entityText(text string, e models.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	if e.Offset < 0 || e.Length <= 0 || e.Offset+e.Length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
}

func scanEntities(text string, entities []models.MessageEntity) (urls []string, mentions int) {
	for _, e := range entities {
		switch e.Type {
		case models.MessageEntityTypeURL:
			if u := entityText(text, e); u != "" {
				urls = append(urls, u)
			}
		case models.MessageEntityTypeTextLink:
			if e.URL != "" {
				urls = append(urls, e.URL)
			}
		case models.MessageEntityTypeMention, models.MessageEntityTypeTextMention:
			mentions++
		}
	}
	return urls, mentions
}

func hasMedia(msg *models.Message) bool {
	return len(msg.Photo) > 0 ||
		msg.Video != nil ||
		msg.Document != nil ||
		msg.Animation != nil ||
		msg.Audio != nil ||
		msg.Voice != nil ||
		msg.VideoNote != nil ||
		msg.Sticker != nil
}

// toInbound переводит сообщение Telegram в термины модерации
func toInbound(msg *models.Message) moderation.Inbound {
	in := moderation.Inbound{
		ChatID:    msg.Chat.ID,
		ChatType:  string(msg.Chat.Type),
		MessageID: msg.ID,
	}
	if msg.From != nil {
		in.UserID = msg.From.ID
		in.Username = msg.From.Username
		in.IsBot = msg.From.IsBot
	}

	textURLs, textMentions := scanEntities(msg.Text, msg.Entities)
	capURLs, capMentions := scanEntities(msg.Caption, msg.CaptionEntities)

	in.Text = strings.TrimSpace(msg.Text + " " + msg.Caption)
	in.Domains = moderation.ExtractDomains(in.Text, append(textURLs, capURLs...)...)
	in.Mentions = textMentions + capMentions
	in.HasMedia = hasMedia(msg)
	return in
}
