package alert

import (
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// markupRe matches **bold** or `code`.
var markupRe = regexp.MustCompile("\\*\\*(.+?)\\*\\*|`([^`]+?)`")

// utf16Len counts UTF-16 code units; Telegram entity offsets use them.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// renderEntities strips **bold** and `code` markers from text and returns the
// plain text with matching Telegram message entities, ordered by offset.
func renderEntities(text string) (string, []tgbotapi.MessageEntity) {
	var (
		out      strings.Builder
		entities []tgbotapi.MessageEntity
		last     int
	)
	for _, loc := range markupRe.FindAllStringSubmatchIndex(text, -1) {
		out.WriteString(text[last:loc[0]])
		kind, inner := "bold", ""
		if loc[2] != -1 {
			inner = text[loc[2]:loc[3]]
		} else {
			kind, inner = "code", text[loc[4]:loc[5]]
		}
		entities = append(entities, tgbotapi.MessageEntity{
			Type:   kind,
			Offset: utf16Len(out.String()),
			Length: utf16Len(inner),
		})
		out.WriteString(inner)
		last = loc[1]
	}
	out.WriteString(text[last:])
	return out.String(), entities
}
