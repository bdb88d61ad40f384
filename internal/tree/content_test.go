package tree

import (
	"encoding/json"
	"testing"
)

func TestContentCodec(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		json    string
	}{
		{"plain text", Text("hello"), `"hello"`},
		{"empty text", Text(""), `""`},
		{
			"text parts",
			Parts{TextPart("a"), TextPart("b")},
			`[{"type":"text","text":"a"},{"type":"text","text":"b"}]`,
		},
		{
			"image with mime type",
			Parts{ImagePart("data:image/png;base64,AAAA", "image/png")},
			`[{"type":"image","image":"data:image/png;base64,AAAA","mimeType":"image/png"}]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeContent(tt.content)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if string(data) != tt.json {
				t.Errorf("expected %s, got %s", tt.json, data)
			}
			decoded, err := DecodeContent(data)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if PlainText(decoded) != PlainText(tt.content) {
				t.Errorf("round trip changed content: %q vs %q", PlainText(decoded), PlainText(tt.content))
			}
		})
	}
}

func TestDecodeContentTolerance(t *testing.T) {
	t.Run("null decodes as empty text", func(t *testing.T) {
		c, err := DecodeContent([]byte("null"))
		if err != nil {
			t.Fatal(err)
		}
		if c != Text("") {
			t.Errorf("expected empty text, got %#v", c)
		}
	})

	t.Run("empty input decodes as empty text", func(t *testing.T) {
		c, err := DecodeContent(nil)
		if err != nil {
			t.Fatal(err)
		}
		if c != Text("") {
			t.Errorf("expected empty text, got %#v", c)
		}
	})

	t.Run("object is rejected", func(t *testing.T) {
		if _, err := DecodeContent([]byte(`{"type":"text"}`)); err == nil {
			t.Error("expected error for object content")
		}
	})
}

func TestNodeJSONShape(t *testing.T) {
	parent := "p1"
	n := Node{
		ID:        "n1",
		Role:      RoleAssistant,
		Content:   Text("hi"),
		CreatedAt: 42,
		Status:    StatusFinal,
		ParentID:  &parent,
	}
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"id", "role", "content", "createdAt", "status", "parentId"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("expected key %q in node JSON: %s", key, data)
		}
	}
	// Empty optional fields stay off the wire
	for _, key := range []string{"reasoningContent", "tokenLogprobs"} {
		if _, ok := raw[key]; ok {
			t.Errorf("did not expect key %q in node JSON: %s", key, data)
		}
	}

	var back Node
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.ID != n.ID || back.Role != n.Role || PlainText(back.Content) != "hi" ||
		back.CreatedAt != 42 || back.Status != StatusFinal ||
		back.ParentID == nil || *back.ParentID != parent {
		t.Errorf("round trip changed node: %+v", back)
	}
}

func TestNodeJSONRootParent(t *testing.T) {
	n := Node{ID: "n1", Role: RoleSystem, Content: Text("sys"), CreatedAt: 1}
	data, err := json.Marshal(n)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	// parentId is always present, null for roots
	if got, ok := raw["parentId"]; !ok || string(got) != "null" {
		t.Errorf("expected explicit null parentId, got %s", data)
	}
	// zero status stays off the wire ("never streamed")
	if _, ok := raw["status"]; ok {
		t.Errorf("did not expect status key for never-streamed node: %s", data)
	}
}
