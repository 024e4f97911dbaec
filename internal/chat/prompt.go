package chat

import (
	"fmt"
	"strings"

	"persona-chat/backend/internal/emotion"
	"persona-chat/backend/internal/language"
	"persona-chat/backend/internal/models"
)

// DefaultSystemPrompt is used for personas without any prompt of their own.
const DefaultSystemPrompt = "You are a friendly, helpful AI assistant. Answer the user's questions concisely and accurately."

// BuildSystemPrompt assembles the persona prompt plus the emotion-tag
// instruction, and a reply-language instruction when lang is not the default.
func BuildSystemPrompt(p *models.Persona, lang, defaultLang language.Tag, fallback string) string {
	base := ""
	if p != nil {
		base = strings.TrimSpace(p.BackgroundPrompt)
		if base == "" {
			base = strings.TrimSpace(p.SystemPrompt)
		}
	}
	if base == "" {
		base = fallback
	}
	if base == "" {
		base = DefaultSystemPrompt
	}

	labels := make([]string, len(emotion.Labels))
	for i, l := range emotion.Labels {
		labels[i] = string(l)
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nImportant instructions:\n")
	fmt.Fprintf(&b, "1. End every reply with a tag describing your current emotion, in the form %s.\n", emotion.Tag("NAME"))
	fmt.Fprintf(&b, "   Available emotions: %s", strings.Join(labels, ", "))
	if lang != defaultLang {
		fmt.Fprintf(&b, "\n2. Whatever language the user writes in, you must reply only in %s.", language.PromptName(lang))
	}
	return b.String()
}

// RenderHistory renders most-recent-first records as chronological
// "user:"/"assistant:" lines.
func RenderHistory(records []models.ConversationRecord) string {
	var b strings.Builder
	for i := len(records) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "user: %s\nassistant: %s\n", records[i].UserMessage, records[i].AIResponse)
	}
	return strings.TrimSuffix(b.String(), "\n")
}
