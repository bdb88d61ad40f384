package tree

import (
	"encoding/json"
	"fmt"
)

// Content is the message body of a node: either a plain string or an
// ordered list of typed parts. On the wire (and in snapshots) the two
// variants serialize as a JSON string or a JSON array respectively.
type Content interface {
	isContent()
}

// Text is the plain-string content variant.
type Text string

// Parts is the structured content variant.
type Parts []Part

func (Text) isContent()  {}
func (Parts) isContent() {}

// Part types
const (
	PartTypeText  = "text"
	PartTypeImage = "image"
)

// Part is one segment of structured content: a text run or an image.
type Part struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Image    string `json:"image,omitempty"`    // data URI
	MimeType string `json:"mimeType,omitempty"` // optional media type for images
}

// TextPart builds a text part
func TextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// ImagePart builds an image part from a data URI and optional media type
func ImagePart(dataURI, mimeType string) Part {
	return Part{Type: PartTypeImage, Image: dataURI, MimeType: mimeType}
}

// EncodeContent marshals the content union to its wire shape.
// Nil content encodes as the empty string.
func EncodeContent(c Content) ([]byte, error) {
	switch v := c.(type) {
	case nil:
		return json.Marshal("")
	case Text:
		return json.Marshal(string(v))
	case Parts:
		return json.Marshal([]Part(v))
	default:
		return nil, fmt.Errorf("unknown content variant %T", c)
	}
}

// DecodeContent unmarshals the wire shape back into the union.
// JSON null is tolerated and decodes as empty text.
func DecodeContent(data []byte) (Content, error) {
	if len(data) == 0 {
		return Text(""), nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode string content: %w", err)
		}
		return Text(s), nil
	case '[':
		var parts []Part
		if err := json.Unmarshal(data, &parts); err != nil {
			return nil, fmt.Errorf("failed to decode structured content: %w", err)
		}
		return Parts(parts), nil
	case 'n':
		return Text(""), nil
	default:
		return nil, fmt.Errorf("content must be a string or an array of parts")
	}
}

// PlainText flattens content to a single string: the string itself for
// the text variant, the concatenation of text parts for the structured
// variant (images contribute nothing).
func PlainText(c Content) string {
	switch v := c.(type) {
	case Text:
		return string(v)
	case Parts:
		var out string
		for _, p := range v {
			if p.Type == PartTypeText {
				out += p.Text
			}
		}
		return out
	default:
		return ""
	}
}

// appendText merges delta into the trailing text run of c and returns
// the new content value. For structured content this extends the last
// part when it is a text part, otherwise appends a fresh text part, so
// streaming never fragments text into one part per delta.
func appendText(c Content, delta string) Content {
	if delta == "" {
		return c
	}
	switch v := c.(type) {
	case nil:
		return Text(delta)
	case Text:
		return v + Text(delta)
	case Parts:
		out := make(Parts, len(v))
		copy(out, v)
		if n := len(out); n > 0 && out[n-1].Type == PartTypeText {
			out[n-1].Text += delta
		} else {
			out = append(out, TextPart(delta))
		}
		return out
	default:
		return c
	}
}

// cloneContent deep-copies content so that stored nodes never share a
// parts slice with caller-held values.
func cloneContent(c Content) Content {
	if v, ok := c.(Parts); ok {
		out := make(Parts, len(v))
		copy(out, v)
		return out
	}
	return c
}
