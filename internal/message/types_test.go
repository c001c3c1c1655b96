package message

import (
	"encoding/json"
	"testing"
)

func TestContentMarshalVariants(t *testing.T) {
	t.Parallel()

	text, err := json.Marshal(TextContent("oi"))
	if err != nil {
		t.Fatalf("marshal text: %v", err)
	}
	if string(text) != `"oi"` {
		t.Fatalf("unexpected text json: %s", text)
	}

	products, err := json.Marshal(ProductContent([]Product{{Title: "Fertilizante X", Handle: "fert-x"}}))
	if err != nil {
		t.Fatalf("marshal products: %v", err)
	}
	want := `[{"title":"Fertilizante X","price":"","image_src":"","handle":"fert-x","link":""}]`
	if string(products) != want {
		t.Fatalf("unexpected products json: %s", products)
	}
}

func TestContentUnmarshal(t *testing.T) {
	t.Parallel()

	var msg Message
	raw := `{"id":"1","content":[{"title":"A","price":"R$ 10"}],"sender_name":"Ana","timestamp":5,"buttonLabels":["x"]}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Content.Kind != KindProducts || len(msg.Content.Products) != 1 {
		t.Fatalf("expected product content, got %+v", msg.Content)
	}
	if msg.Content.Products[0].Price != "R$ 10" {
		t.Fatalf("unexpected price %q", msg.Content.Products[0].Price)
	}

	var text Content
	if err := json.Unmarshal([]byte(`"hello"`), &text); err != nil {
		t.Fatalf("unmarshal text: %v", err)
	}
	if text.Kind != KindText || text.Text != "hello" {
		t.Fatalf("unexpected text content: %+v", text)
	}

	var bad Content
	if err := json.Unmarshal([]byte(`{"a":1}`), &bad); err == nil {
		t.Fatalf("expected error for object content")
	}
}

func TestContentIsEmpty(t *testing.T) {
	t.Parallel()

	if !TextContent("  ").IsEmpty() {
		t.Fatalf("blank text should be empty")
	}
	if !ProductContent(nil).IsEmpty() {
		t.Fatalf("nil products should be empty")
	}
	if TextContent("x").IsEmpty() {
		t.Fatalf("text should not be empty")
	}
}
