// Package normalize reduces raw automation-engine and support-platform
// payloads to the canonical message shape.
//
// Upstream output is inconsistent: plain prose, raw JSON, JSON wrapped in a
// Markdown code fence, or JSON whose answer field holds another JSON document.
// Normalize tries an ordered list of parse attempts and the first one that
// succeeds decides the interpretation; when nothing parses the raw text is the
// content.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/usebrk/beka-widget/internal/message"
	"github.com/usebrk/beka-widget/internal/metrics"
)

var (
	// DefaultAnswerKeys are tried in order to locate the answer payload.
	DefaultAnswerKeys = []string{"Beka", "answer"}
	// DefaultLabelKeys are tried in order to locate quick-reply labels.
	DefaultLabelKeys = []string{"ButtonLabel", "options"}
)

var fencePattern = regexp.MustCompile("(?i)```(?:json)?\\s*|\\s*```")

// Result is the canonical `{content, buttonLabels?}` shape.
type Result struct {
	Content      message.Content
	ButtonLabels []string
}

// Normalizer holds the key conventions of the upstream engine.
type Normalizer struct {
	answerKeys []string
	labelKeys  []string
	metrics    *metrics.Metrics
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithAnswerKeys overrides the answer field names, in precedence order.
func WithAnswerKeys(keys ...string) Option {
	return func(n *Normalizer) {
		if cleaned := cleanKeys(keys); len(cleaned) > 0 {
			n.answerKeys = cleaned
		}
	}
}

// WithLabelKeys overrides the quick-reply field names, in precedence order.
func WithLabelKeys(keys ...string) Option {
	return func(n *Normalizer) {
		if cleaned := cleanKeys(keys); len(cleaned) > 0 {
			n.labelKeys = cleaned
		}
	}
}

// WithMetrics records the resulting shape of every payload.
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Normalizer) { n.metrics = m }
}

// New creates a Normalizer using the default key conventions unless overridden.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		answerKeys: append([]string(nil), DefaultAnswerKeys...),
		labelKeys:  append([]string(nil), DefaultLabelKeys...),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// AnswerKey is the primary answer field name, used when writing replies.
func (n *Normalizer) AnswerKey() string {
	return n.answerKeys[0]
}

// LabelKey is the primary quick-reply field name, used when writing replies.
func (n *Normalizer) LabelKey() string {
	return n.labelKeys[0]
}

type parseAttempt func(raw string) (any, bool)

// Normalize interprets raw text. It never fails: text that cannot be parsed
// is returned verbatim as text content.
func (n *Normalizer) Normalize(raw string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Content: message.TextContent(raw)}
		}
		n.record(res, raw)
	}()

	for _, attempt := range []parseAttempt{parseStrict, parseFenced} {
		value, ok := attempt(raw)
		if !ok {
			continue
		}
		if interpreted, ok := n.interpret(value); ok {
			return interpreted
		}
		break
	}
	return Result{Content: message.TextContent(raw)}
}

// NormalizeValue interprets an already-decoded value, skipping text parsing.
// Strings are treated like raw text.
func (n *Normalizer) NormalizeValue(value any) Result {
	if s, ok := value.(string); ok {
		return n.Normalize(s)
	}
	if interpreted, ok := n.interpret(value); ok {
		n.record(interpreted, "")
		return interpreted
	}
	res := Result{Content: message.TextContent(stringify(value))}
	n.record(res, "")
	return res
}

func (n *Normalizer) record(res Result, raw string) {
	if n.metrics == nil {
		return
	}
	shape := res.Content.Kind.String()
	if res.Content.Kind == message.KindText && raw != "" && res.Content.Text == raw {
		shape = "plain"
	}
	n.metrics.Normalized(shape)
}

func (n *Normalizer) interpret(value any) (Result, bool) {
	switch v := value.(type) {
	case []any:
		return Result{Content: toContent(v)}, true
	case map[string]any:
		return n.fromObject(v), true
	case string:
		return Result{Content: message.TextContent(v)}, true
	default:
		return Result{}, false
	}
}

func (n *Normalizer) fromObject(obj map[string]any) Result {
	labels, _ := n.labels(obj)

	answer, ok := lookup(obj, n.answerKeys)
	if !ok {
		return Result{Content: message.TextContent(stringify(obj)), ButtonLabels: labels}
	}

	if s, isString := answer.(string); isString && looksLikeJSON(s) {
		if parsed, ok := parseStrict(strings.TrimSpace(s)); ok {
			answer = parsed
		}
	}

	// Double wrapping: {"answer": {"answer": ..., "options": [...]}}.
	if inner, isObject := answer.(map[string]any); isObject {
		if nested, ok := lookup(inner, n.answerKeys); ok {
			if innerLabels, ok := n.labels(inner); ok {
				labels = innerLabels
			}
			answer = nested
		}
	}

	return Result{Content: toContent(answer), ButtonLabels: labels}
}

func (n *Normalizer) labels(obj map[string]any) ([]string, bool) {
	raw, ok := lookup(obj, n.labelKeys)
	if !ok {
		return nil, false
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}
	labels := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			labels = append(labels, s)
		}
	}
	if len(labels) == 0 {
		return nil, false
	}
	return labels, true
}

func lookup(obj map[string]any, keys []string) (any, bool) {
	for _, key := range keys {
		if v, ok := obj[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func toContent(value any) message.Content {
	switch v := value.(type) {
	case nil:
		return message.TextContent("")
	case string:
		return message.TextContent(v)
	case []any:
		products, ok := toProducts(v)
		if !ok {
			return message.TextContent(stringify(v))
		}
		return message.ProductContent(products)
	default:
		return message.TextContent(stringify(v))
	}
}

func toProducts(items []any) ([]message.Product, bool) {
	products := make([]message.Product, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		products = append(products, message.Product{
			Title:    field(obj, "title", "name"),
			Price:    field(obj, "price"),
			ImageURL: field(obj, "image_src", "imageUrl", "image_url", "image"),
			Handle:   field(obj, "handle"),
			Link:     field(obj, "link", "url"),
		})
	}
	return products, true
}

func field(obj map[string]any, keys ...string) string {
	v, ok := lookup(obj, keys)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return fmt.Sprint(t)
	default:
		return stringify(t)
	}
}

func looksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	first, last := s[0], s[len(s)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}

func parseStrict(raw string) (any, bool) {
	value, err := decode(raw)
	if err != nil {
		return nil, false
	}
	return value, true
}

func parseFenced(raw string) (any, bool) {
	if !strings.Contains(raw, "```") {
		return nil, false
	}
	cleaned := strings.TrimSpace(fencePattern.ReplaceAllString(raw, ""))
	if !strings.HasPrefix(cleaned, "{") && !strings.HasPrefix(cleaned, "[") {
		return nil, false
	}
	return parseStrict(cleaned)
}

func decode(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return value, nil
}

func stringify(value any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return fmt.Sprint(value)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func cleanKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			out = append(out, key)
		}
	}
	return out
}
