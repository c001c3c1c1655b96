package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentKind tags which variant a Content holds.
type ContentKind int

const (
	KindText ContentKind = iota
	KindProducts
)

func (k ContentKind) String() string {
	switch k {
	case KindProducts:
		return "products"
	default:
		return "text"
	}
}

// Product is a catalog item surfaced inline in a message.
type Product struct {
	Title    string `json:"title"`
	Price    string `json:"price"`
	ImageURL string `json:"image_src"`
	Handle   string `json:"handle"`
	Link     string `json:"link"`
}

// Content is either free text or an ordered product list, never both.
type Content struct {
	Kind     ContentKind
	Text     string
	Products []Product
}

// TextContent builds a text variant.
func TextContent(text string) Content {
	return Content{Kind: KindText, Text: text}
}

// ProductContent builds a product-list variant.
func ProductContent(products []Product) Content {
	if products == nil {
		products = []Product{}
	}
	return Content{Kind: KindProducts, Products: products}
}

// IsEmpty reports whether the content carries nothing displayable.
func (c Content) IsEmpty() bool {
	if c.Kind == KindProducts {
		return len(c.Products) == 0
	}
	return strings.TrimSpace(c.Text) == ""
}

// MarshalJSON encodes text as a JSON string and products as a JSON array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Kind == KindProducts {
		products := c.Products
		if products == nil {
			products = []Product{}
		}
		return json.Marshal(products)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts a JSON string or a JSON array of products.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = TextContent("")
		return nil
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*c = TextContent(text)
		return nil
	case '[':
		var products []Product
		if err := json.Unmarshal(trimmed, &products); err != nil {
			return err
		}
		*c = ProductContent(products)
		return nil
	default:
		return fmt.Errorf("content must be a string or a product list")
	}
}

// Message is the canonical unit delivered to a widget client.
type Message struct {
	ID           string   `json:"id"`
	Content      Content  `json:"content"`
	SenderName   string   `json:"sender_name,omitempty"`
	Timestamp    int64    `json:"timestamp"`
	ButtonLabels []string `json:"buttonLabels,omitempty"`
}

// Listener receives messages pushed by the store.
type Listener func(Message)
