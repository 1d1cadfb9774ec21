package chat

import (
	"fmt"
	"strings"
)

// HistoryMode selects what context each generation sees.
type HistoryMode string

const (
	// HistoryIsolated generates every turn from the latest prompt alone.
	HistoryIsolated HistoryMode = "isolated"
	// HistoryTranscript renders prior finished turns in front of the prompt.
	HistoryTranscript HistoryMode = "transcript"
)

// Template is the prompt format handed to the engine.
type Template string

const (
	// TemplateRaw passes text through; transcripts use "User:"/"Assistant:" lines.
	TemplateRaw Template = "raw"
	// TemplateChatML wraps turns in <|im_start|>/<|im_end|> markers (Qwen2.5 and friends).
	TemplateChatML Template = "chatml"
)

// ParseHistoryMode accepts "" (isolated), "isolated" or "transcript".
func ParseHistoryMode(s string) (HistoryMode, error) {
	switch HistoryMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", HistoryIsolated:
		return HistoryIsolated, nil
	case HistoryTranscript:
		return HistoryTranscript, nil
	}
	return "", fmt.Errorf("unknown history mode %q (want isolated or transcript)", s)
}

// ParseTemplate accepts "" (raw), "raw" or "chatml".
func ParseTemplate(s string) (Template, error) {
	switch Template(strings.ToLower(strings.TrimSpace(s))) {
	case "", TemplateRaw:
		return TemplateRaw, nil
	case TemplateChatML:
		return TemplateChatML, nil
	}
	return "", fmt.Errorf("unknown prompt template %q (want raw or chatml)", s)
}

// PromptBuilder turns the conversation log and new input into engine text.
type PromptBuilder struct {
	Mode     HistoryMode
	Template Template
	System   string
}

type turn struct {
	role Role
	text string
}

// Build renders input, preceded by history when Mode is HistoryTranscript.
// In-progress and empty messages are never part of the history.
func (b PromptBuilder) Build(history []Message, input string) string {
	var turns []turn
	if b.Mode == HistoryTranscript {
		for _, m := range history {
			if m.InProgress || strings.TrimSpace(m.Content) == "" {
				continue
			}
			turns = append(turns, turn{m.Role, m.Content})
		}
	}
	turns = append(turns, turn{RoleUser, input})

	if b.Template == TemplateChatML {
		return b.chatML(turns)
	}
	return b.raw(turns)
}

func (b PromptBuilder) raw(turns []turn) string {
	var sb strings.Builder
	if s := strings.TrimSpace(b.System); s != "" {
		sb.WriteString(s)
		sb.WriteString("\n\n")
	}
	if len(turns) == 1 {
		sb.WriteString(turns[0].text)
		return sb.String()
	}
	for _, t := range turns {
		if t.role == RoleUser {
			sb.WriteString("User: ")
		} else {
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(t.text)
		sb.WriteString("\n")
	}
	sb.WriteString("Assistant:")
	return sb.String()
}

func (b PromptBuilder) chatML(turns []turn) string {
	var sb strings.Builder
	block := func(role, text string) {
		sb.WriteString("<|im_start|>")
		sb.WriteString(role)
		sb.WriteString("\n")
		sb.WriteString(text)
		sb.WriteString("<|im_end|>\n")
	}
	if s := strings.TrimSpace(b.System); s != "" {
		block("system", s)
	}
	for _, t := range turns {
		block(string(t.role), t.text)
	}
	sb.WriteString("<|im_start|>assistant\n")
	return sb.String()
}
