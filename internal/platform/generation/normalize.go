package generation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

// wrapperKeys are envelope fields some models put around the payload. A
// response of the form {"response": {...}} is unwrapped before decoding.
var wrapperKeys = []string{"response", "data", "result", "output"}

// maxUnwrapDepth bounds envelope unwrapping.
const maxUnwrapDepth = 4

// Normalize turns raw model output into a domain.Generation for shape. It is
// the single place where wrapped and flat response variants are reconciled;
// callers never see either form. Output that cannot be read as shape yields
// an error wrapping domain.ErrMalformedGeneration.
func Normalize(shape domain.GenerationShape, raw []byte) (domain.Generation, error) {
	var v any
	if err := json.Unmarshal(stripFences(raw), &v); err != nil {
		return domain.Generation{}, fmt.Errorf("generation: %w: %v", domain.ErrMalformedGeneration, err)
	}
	v = unwrap(v, shape)

	g := domain.Generation{Shape: shape}
	switch shape {
	case domain.ShapePost:
		obj, ok := v.(map[string]any)
		if !ok {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) != "" {
				g.Post = &domain.GeneratedPost{Content: strings.TrimSpace(s)}
				return g, nil
			}
			return g, malformed(shape, "expected object")
		}
		content := str(obj, "content", "post", "text", "body")
		if content == "" {
			return g, malformed(shape, "empty content")
		}
		g.Post = &domain.GeneratedPost{Content: content}

	case domain.ShapeArticle:
		obj, ok := v.(map[string]any)
		if !ok {
			return g, malformed(shape, "expected object")
		}
		a := &domain.GeneratedArticle{
			Title:   str(obj, "title", "headline"),
			Summary: str(obj, "summary", "dek", "subtitle"),
			Body:    str(obj, "body", "content", "article", "text"),
		}
		if a.Title == "" || a.Body == "" {
			return g, malformed(shape, "missing title or body")
		}
		g.Article = a

	case domain.ShapeQuestion:
		obj, ok := v.(map[string]any)
		if !ok {
			return g, malformed(shape, "expected object")
		}
		q := &domain.GeneratedQuestion{
			Question:           str(obj, "question", "text", "title"),
			ResolutionCriteria: str(obj, "resolutionCriteria", "resolution_criteria", "criteria"),
			Category:           str(obj, "category", "topic"),
		}
		if q.Question == "" || q.ResolutionCriteria == "" {
			return g, malformed(shape, "missing question or resolution criteria")
		}
		g.Question = q

	case domain.ShapeEvent:
		obj, ok := v.(map[string]any)
		if !ok {
			return g, malformed(shape, "expected object")
		}
		e := &domain.GeneratedEvent{
			Type:        str(obj, "type", "eventType", "event_type", "kind"),
			Description: str(obj, "description", "summary", "text"),
		}
		if e.Description == "" {
			return g, malformed(shape, "empty description")
		}
		if e.Type == "" {
			e.Type = "development"
		}
		g.Event = e

	case domain.ShapeDecisions:
		items, err := decisionItems(v)
		if err != nil {
			return g, malformed(shape, err.Error())
		}
		g.Decisions = make([]domain.TradeDecision, 0, len(items))
		for _, it := range items {
			obj, ok := it.(map[string]any)
			if !ok {
				continue
			}
			d := domain.TradeDecision{
				ActorID:    str(obj, "npcId", "actorId", "actor_id", "npc_id"),
				Action:     action(str(obj, "action", "decision")),
				Ticker:     str(obj, "ticker", "symbol", "organizationId"),
				MarketID:   str(obj, "marketId", "market_id"),
				Amount:     num(obj, "amount", "size"),
				Confidence: num(obj, "confidence"),
				Reasoning:  str(obj, "reasoning", "reason"),
			}
			if d.ActorID == "" || d.Action == "" {
				continue
			}
			g.Decisions = append(g.Decisions, d)
		}

	default:
		return g, fmt.Errorf("generation: unknown shape %q", shape)
	}
	return g, nil
}

// actionAliases maps the spellings models use onto domain actions.
var actionAliases = map[string]domain.TradeAction{
	"long":       domain.ActionOpenLong,
	"buy":        domain.ActionOpenLong,
	"short":      domain.ActionOpenShort,
	"sell":       domain.ActionOpenShort,
	"close":      domain.ActionClose,
	"yes":        domain.ActionBuyYes,
	"no":         domain.ActionBuyNo,
	"wait":       domain.ActionHold,
	"do_nothing": domain.ActionHold,
}

func action(raw string) domain.TradeAction {
	a := strings.ReplaceAll(strings.ToLower(raw), "-", "_")
	if mapped, ok := actionAliases[a]; ok {
		return mapped
	}
	return domain.TradeAction(a)
}

func malformed(shape domain.GenerationShape, why string) error {
	return fmt.Errorf("generation: %w: %s: %s", domain.ErrMalformedGeneration, shape, why)
}

// unwrap descends through single-purpose envelopes. For the decisions shape
// the "decisions" key itself is the payload and is left for decisionItems.
func unwrap(v any, shape domain.GenerationShape) any {
	for depth := 0; depth < maxUnwrapDepth; depth++ {
		obj, ok := v.(map[string]any)
		if !ok {
			return v
		}
		if shape == domain.ShapeDecisions {
			if _, has := obj["decisions"]; has {
				return v
			}
		}
		next, found := envelope(obj)
		if !found {
			return v
		}
		v = next
	}
	return v
}

func envelope(obj map[string]any) (any, bool) {
	for _, k := range wrapperKeys {
		inner, ok := obj[k]
		if !ok {
			continue
		}
		switch inner.(type) {
		case map[string]any, []any:
			return inner, true
		case string:
			// Some providers double-encode the payload as a JSON string.
			var decoded any
			if err := json.Unmarshal([]byte(inner.(string)), &decoded); err == nil {
				return decoded, true
			}
		}
	}
	return nil, false
}

func decisionItems(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case map[string]any:
		if arr, ok := t["decisions"].([]any); ok {
			return arr, nil
		}
		if _, ok := t["action"]; ok {
			return []any{t}, nil
		}
	}
	return nil, fmt.Errorf("expected a decisions array")
}

// stripFences removes a surrounding markdown code fence, which chat models
// add despite instructions.
func stripFences(raw []byte) []byte {
	b := bytes.TrimSpace(raw)
	if !bytes.HasPrefix(b, []byte("```")) {
		return b
	}
	if nl := bytes.IndexByte(b, '\n'); nl >= 0 {
		b = b[nl+1:]
	}
	b = bytes.TrimSuffix(bytes.TrimSpace(b), []byte("```"))
	return bytes.TrimSpace(b)
}

func str(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func num(obj map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch t := obj[k].(type) {
		case float64:
			return t
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return f
			}
		}
	}
	return 0
}
