package anthropic

import (
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"arbor/internal/tree"
)

// convertTurns maps a compiled path to Anthropic message params. System
// turns are lifted out of the sequence into the system prompt; the
// Messages API does not accept them inline.
func convertTurns(turns []tree.Turn) ([]anthropic.MessageParam, []anthropic.TextBlockParam, error) {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	var system []anthropic.TextBlockParam

	for i, turn := range turns {
		if turn.Role == tree.RoleSystem {
			system = append(system, anthropic.TextBlockParam{
				Type: "text",
				Text: tree.PlainText(turn.Content),
			})
			continue
		}

		blocks, err := convertContent(turn.Content)
		if err != nil {
			return nil, nil, fmt.Errorf("turn %d: %w", i, err)
		}
		if len(blocks) == 0 {
			continue
		}

		switch turn.Role {
		case tree.RoleUser, tree.RoleTool:
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		case tree.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("turn %d: unsupported role '%s'", i, turn.Role)
		}
	}

	return messages, system, nil
}

// convertContent maps the content union to Anthropic content blocks.
func convertContent(content tree.Content) ([]anthropic.ContentBlockParamUnion, error) {
	switch c := content.(type) {
	case tree.Text:
		if c == "" {
			return nil, nil
		}
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(string(c))}, nil

	case tree.Parts:
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(c))
		for _, part := range c {
			switch part.Type {
			case tree.PartTypeText:
				if part.Text == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			case tree.PartTypeImage:
				mediaType, data, err := parseDataURI(part.Image, part.MimeType)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
			default:
				return nil, fmt.Errorf("unsupported part type '%s'", part.Type)
			}
		}
		return blocks, nil

	default:
		return nil, nil
	}
}

// parseDataURI splits a "data:<mime>;base64,<payload>" URI into its
// media type and payload. An explicit mimeType wins over the URI's.
func parseDataURI(uri, mimeType string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", "", fmt.Errorf("image is not a data URI")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("malformed data URI")
	}
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", fmt.Errorf("image data URI must be base64-encoded")
	}
	if mimeType == "" {
		mimeType = strings.TrimSuffix(meta, ";base64")
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	return mimeType, data, nil
}
