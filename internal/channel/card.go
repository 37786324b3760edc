package channel

import (
	"encoding/json"
	"strings"
)

const adaptiveCardContentType = "application/vnd.microsoft.card.adaptive"

// ExpiredPlaceholder is the text shown in place of content that passed its expiry date.
const ExpiredPlaceholder = "This message is no longer available."

type adaptiveCard struct {
	Schema  string      `json:"$schema"`
	Type    string      `json:"type"`
	Version string      `json:"version"`
	Body    []textBlock `json:"body"`
}

type textBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Wrap   bool   `json:"wrap"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
}

// RenderCard builds a minimal adaptive card with an optional title block.
func RenderCard(title, content string) (string, error) {
	card := adaptiveCard{
		Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
		Type:    "AdaptiveCard",
		Version: "1.2",
	}
	if t := strings.TrimSpace(title); t != "" {
		card.Body = append(card.Body, textBlock{Type: "TextBlock", Text: t, Wrap: true, Size: "ExtraLarge", Weight: "Bolder"})
	}
	card.Body = append(card.Body, textBlock{Type: "TextBlock", Text: content, Wrap: true})

	raw, err := json.Marshal(card)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ExpiredCard is the placeholder card written over expired deliveries.
func ExpiredCard() string {
	card, err := RenderCard("", ExpiredPlaceholder)
	if err != nil {
		return ""
	}
	return card
}

type attachment struct {
	ContentType string          `json:"contentType"`
	Content     json.RawMessage `json:"content"`
}

type activity struct {
	ID          string       `json:"id,omitempty"`
	Type        string       `json:"type"`
	Attachments []attachment `json:"attachments"`
}

func newCardActivity(activityID, content string) (activity, error) {
	if !json.Valid([]byte(content)) {
		return activity{}, &SendError{Message: "card content is not valid JSON"}
	}
	return activity{
		ID:   activityID,
		Type: "message",
		Attachments: []attachment{{
			ContentType: adaptiveCardContentType,
			Content:     json.RawMessage(content),
		}},
	}, nil
}
