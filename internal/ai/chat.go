package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Persona describes one side of a conversation to the model.
type Persona struct {
	ID          string
	Name        string
	Description string
}

// HistoryEntry is one earlier message, oldest first.
type HistoryEntry struct {
	SenderID string
	Text     string
	SentAt   time.Time
}

type ChatInput struct {
	History     []HistoryEntry
	NewMessage  string
	CurrentUser Persona
	Participant Persona
}

// Reply is a message authored on behalf of the participant.
type Reply struct {
	AuthorID string `json:"author_id"`
	Text     string `json:"text"`
}

// ChatReply asks the model to answer NewMessage in the participant's voice.
// Only the most recent history entries are sent.
func (c *Client) ChatReply(ctx context.Context, in ChatInput) (*Reply, error) {
	history := in.History
	if len(history) > c.historyLimit {
		history = history[len(history)-c.historyLimit:]
	}
	text, err := c.generate(ctx, "chat", []part{{Text: chatPrompt(history, in)}}, false)
	if err != nil {
		return nil, err
	}
	return &Reply{AuthorID: in.Participant.ID, Text: text}, nil
}

func chatPrompt(history []HistoryEntry, in ChatInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are acting as a user in a professional networking app called ConnectNow.\n\n")
	fmt.Fprintf(&sb, "Your name is %s, and your persona is: %q.\n", in.Participant.Name, in.Participant.Description)
	fmt.Fprintf(&sb, "You are having a conversation with %s, whose persona is: %q.\n\n", in.CurrentUser.Name, in.CurrentUser.Description)
	fmt.Fprintf(&sb, "Do not reveal that you are an AI. Act as %s.\n\n", in.Participant.Name)
	sb.WriteString("Here is the conversation history (the last message is the newest):\n")
	for _, h := range history {
		name := in.Participant.Name
		if h.SenderID == in.CurrentUser.ID {
			name = in.CurrentUser.Name
		}
		fmt.Fprintf(&sb, "- %s: %s\n", name, h.Text)
	}
	fmt.Fprintf(&sb, "- %s: %s\n\n", in.CurrentUser.Name, in.NewMessage)
	fmt.Fprintf(&sb, "Your response should be just the text of your message, from the perspective of %s.", in.Participant.Name)
	return sb.String()
}
