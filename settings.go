package pgagent

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Setting keys understood by the orchestrator. Unknown keys pass through.
const (
	SettingChatProvider      = "chat_provider"
	SettingChatModel         = "chat_model"
	SettingEmbeddingProvider = "embedding_provider"
	SettingEmbeddingModel    = "embedding_model"
	SettingSystemPrompt      = "system_prompt"
	SettingSearchLimit       = "search_limit"
	SettingAutoCapture       = "auto_capture"
	SettingMinSimilarity     = "min_similarity"
)

const (
	DefaultProvider       = "openai"
	DefaultChatModel      = "gpt-4o-mini"
	DefaultLargeChatModel = "gpt-4o"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultSystemPrompt   = "You are a helpful assistant with access to long-term memory."
	DefaultSearchLimit    = 5
	DefaultMinSimilarity  = 0.3
	DefaultMaxTokens      = 1024
	CaptureImportance     = 0.7
)

// Settings is the key/value configuration read from the Memory Gateway once
// per turn. Values are decoded JSON scalars; the accessors tolerate the
// loose typing of hand-edited settings.
type Settings map[string]any

func (s Settings) String(key, def string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return def
		}
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Int returns the value as an int. Numbers and numeric strings are accepted.
func (s Settings) Int(key string, def int) int {
	v, ok := s[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float32:
		return int(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return def
		}
		return int(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return int(f)
		}
	}
	return def
}

func (s Settings) Float(key string, def float64) float64 {
	v, ok := s[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return def
}

// Bool accepts booleans, numbers (non-zero is true) and the strings
// true/false, 1/0, yes/no, on/off in any case.
func (s Settings) Bool(key string, def bool) bool {
	v, ok := s[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f != 0
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return def
}

// SearchLimit falls back to DefaultSearchLimit for non-positive or
// unparsable values.
func (s Settings) SearchLimit() int {
	n := s.Int(SettingSearchLimit, DefaultSearchLimit)
	if n <= 0 {
		return DefaultSearchLimit
	}
	return n
}

func (s Settings) AutoCapture() bool {
	return s.Bool(SettingAutoCapture, true)
}

func (s Settings) MinSimilarity() float64 {
	return s.Float(SettingMinSimilarity, DefaultMinSimilarity)
}

func (s Settings) Embedding() EmbeddingConfig {
	return EmbeddingConfig{
		Provider: s.String(SettingEmbeddingProvider, DefaultProvider),
		Model:    s.String(SettingEmbeddingModel, DefaultEmbeddingModel),
	}
}

func (s Settings) Chat() ChatConfig {
	return ChatConfig{
		Provider:     s.String(SettingChatProvider, DefaultProvider),
		Model:        s.String(SettingChatModel, DefaultChatModel),
		SystemPrompt: s.String(SettingSystemPrompt, DefaultSystemPrompt),
	}
}

// ParseSettingValue interprets a textual value the way the CLI and REPL
// accept it: valid JSON is decoded, anything else is kept as a string.
func ParseSettingValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
