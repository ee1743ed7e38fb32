package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/nevindra/pgagent"
)

type capture struct {
	url  string
	body []byte
}

type fakeTransport struct {
	respStatus int
	respBody   []byte
	captured   *capture
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	b, _ := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if f.captured != nil {
		f.captured.url = req.URL.String()
		f.captured.body = b
	}
	resp := &http.Response{
		StatusCode: f.respStatus,
		Body:       io.NopCloser(bytes.NewReader(f.respBody)),
		Header:     make(http.Header),
		Request:    req,
	}
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

func newWithTransport(rt http.RoundTripper) *Anthropic {
	return New("test-key", WithHTTPClient(&http.Client{Transport: rt}))
}

type reqBody struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func TestChatTranslatesPlaceholderModels(t *testing.T) {
	tests := []struct{ in, want string }{
		{"gpt-4o-mini", "claude-3-haiku-20240307"},
		{"gpt-4o", "claude-3-5-sonnet-20241022"},
		{"claude-sonnet-4-20250514", "claude-sonnet-4-20250514"},
	}
	for _, tt := range tests {
		got := &capture{}
		a := newWithTransport(&fakeTransport{
			respStatus: 200,
			respBody:   []byte(`{"id":"m","type":"message","role":"assistant","content":[{"type":"text","text":"ok"}],"model":"x","usage":{"input_tokens":1,"output_tokens":1}}`),
			captured:   got,
		})
		if _, err := a.Chat(context.Background(), pgagent.ChatRequest{
			Model:    tt.in,
			Messages: []pgagent.Turn{{Role: "user", Content: "hi"}},
		}); err != nil {
			t.Fatal(err)
		}
		var rb reqBody
		if err := json.Unmarshal(got.body, &rb); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		if rb.Model != tt.want {
			t.Errorf("model %q sent as %q, want %q", tt.in, rb.Model, tt.want)
		}
	}
}

func TestChatSystemFieldAndHistory(t *testing.T) {
	got := &capture{}
	a := newWithTransport(&fakeTransport{
		respStatus: 200,
		respBody:   []byte(`{"id":"m","type":"message","role":"assistant","content":[{"type":"text","text":"Hello"},{"type":"text","text":" again"}],"model":"x","usage":{"input_tokens":30,"output_tokens":4}}`),
		captured:   got,
	})

	resp, err := a.Chat(context.Background(), pgagent.ChatRequest{
		Model:  "gpt-4o-mini",
		System: "sys\n<relevant-memories>\n- [tech] Uses PostgreSQL\n</relevant-memories>\n",
		Messages: []pgagent.Turn{
			{Role: "user", Content: "q1"},
			{Role: "assistant", Content: "a1"},
			{Role: "user", Content: "q2"},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Hello again" || resp.Usage.InputTokens != 30 {
		t.Errorf("resp = %+v", resp)
	}
	if !strings.HasSuffix(got.url, "/v1/messages") {
		t.Errorf("url = %q", got.url)
	}

	var rb reqBody
	if err := json.Unmarshal(got.body, &rb); err != nil {
		t.Fatalf("unmarshal body: %v\nbody=%s", err, got.body)
	}
	if len(rb.System) != 1 || !strings.Contains(rb.System[0].Text, "PostgreSQL") {
		t.Errorf("system = %+v", rb.System)
	}
	if rb.MaxTokens != 1024 {
		t.Errorf("max_tokens = %d", rb.MaxTokens)
	}
	if len(rb.Messages) != 3 || rb.Messages[1].Role != "assistant" || rb.Messages[2].Content[0].Text != "q2" {
		t.Errorf("messages = %+v", rb.Messages)
	}
}

func TestChatAPIError(t *testing.T) {
	a := newWithTransport(&fakeTransport{
		respStatus: 401,
		respBody:   []byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`),
	})
	_, err := a.Chat(context.Background(), pgagent.ChatRequest{
		Messages: []pgagent.Turn{{Role: "user", Content: "hi"}},
	})
	var pc *pgagent.ErrProviderCall
	if !errors.As(err, &pc) {
		t.Fatalf("err = %v, want ErrProviderCall", err)
	}
	if pc.Status != 401 || pc.Message != "invalid x-api-key" {
		t.Errorf("got %+v", pc)
	}
}

func TestChatNoTextContent(t *testing.T) {
	a := newWithTransport(&fakeTransport{
		respStatus: 200,
		respBody:   []byte(`{"content": [], "role":"assistant"}`),
	})
	_, err := a.Chat(context.Background(), pgagent.ChatRequest{
		Messages: []pgagent.Turn{{Role: "user", Content: "hi"}},
	})
	var pc *pgagent.ErrProviderCall
	if !errors.As(err, &pc) {
		t.Fatalf("err = %v, want ErrProviderCall", err)
	}
}
