package prompts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/avvvet/defibuddy-intent/internal/models"
	"github.com/avvvet/defibuddy-intent/internal/slots"
)

var ErrNoJSON = errors.New("no valid JSON found in response")

// IntentResult is the classifier output.
type IntentResult struct {
	Intent     models.Intent
	Confidence float64
}

// ParseIntent reads the classifier JSON. Unknown intents map to clarification.
func ParseIntent(content string) (*IntentResult, error) {
	var raw struct {
		Intent     string          `json:"intent"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := decode(content, &raw); err != nil {
		return nil, err
	}

	res := &IntentResult{Intent: models.ParseIntent(strings.ToLower(strings.TrimSpace(raw.Intent)))}
	if f, ok := rawFloat(raw.Confidence); ok {
		res.Confidence = f
	}
	return res, nil
}

// ParseSlots reads an extraction JSON object into a normalized record.
// Numbers may arrive as JSON numbers or strings.
func ParseSlots(content string) (slots.Record, error) {
	var raw struct {
		Action   *string         `json:"action"`
		Amount   json.RawMessage `json:"amount"`
		TokenIn  *string         `json:"token_in"`
		TokenOut *string         `json:"token_out"`
		Protocol *string         `json:"protocol"`
		Slippage json.RawMessage `json:"slippage"`
		Deadline json.RawMessage `json:"deadline"`
		GasPrice json.RawMessage `json:"gas_price"`
	}
	if err := decode(content, &raw); err != nil {
		return slots.Record{}, err
	}

	var r slots.Record
	if raw.Action != nil {
		if a, ok := slots.ParseAction(*raw.Action); ok {
			r.Action = &a
		}
	}
	r.Amount = rawText(raw.Amount)
	r.TokenIn = raw.TokenIn
	r.TokenOut = raw.TokenOut
	r.Protocol = raw.Protocol
	if f, ok := rawFloat(raw.Slippage); ok {
		r.Slippage = &f
	}
	if f, ok := rawFloat(raw.Deadline); ok {
		d := int(f)
		r.Deadline = &d
	}
	r.GasPrice = rawText(raw.GasPrice)

	return r.Normalize(), nil
}

// QuestionReply is the adaptive question output.
type QuestionReply struct {
	Question    string   `json:"question"`
	Suggestions []string `json:"suggestions"`
	HelpText    string   `json:"help_text"`
}

// ParseQuestion reads the question JSON; a blank question is an error.
func ParseQuestion(content string) (*QuestionReply, error) {
	var q QuestionReply
	if err := decode(content, &q); err != nil {
		return nil, err
	}
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		return nil, errors.New("question is empty")
	}
	if len(q.Suggestions) > 4 {
		q.Suggestions = q.Suggestions[:4]
	}
	return &q, nil
}

// Clarification is the clarifying-question output.
type Clarification struct {
	Question         string   `json:"clarifying_question"`
	SuggestedQueries []string `json:"suggested_queries"`
}

// ParseClarification reads the clarification JSON; a blank question is an error.
func ParseClarification(content string) (*Clarification, error) {
	var c Clarification
	if err := decode(content, &c); err != nil {
		return nil, err
	}
	c.Question = strings.TrimSpace(c.Question)
	if c.Question == "" {
		return nil, errors.New("clarifying question is empty")
	}
	if len(c.SuggestedQueries) > 4 {
		c.SuggestedQueries = c.SuggestedQueries[:4]
	}
	return &c, nil
}

func decode(content string, v any) error {
	jsonContent := extractJSON(content)
	if jsonContent == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(jsonContent), v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

var fence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

func extractJSON(content string) string {
	if m := fence.FindStringSubmatch(content); m != nil {
		content = m[1]
	}

	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}

	end := strings.LastIndex(content, "}")
	if end == -1 || end <= start {
		return ""
	}

	return content[start : end+1]
}

func rawText(raw json.RawMessage) *string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		v := n.String()
		return &v
	}
	return nil
}

func rawFloat(raw json.RawMessage) (float64, bool) {
	s := rawText(raw)
	if s == nil {
		return 0, false
	}
	v := strings.TrimSuffix(strings.TrimSpace(*s), "%")
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
