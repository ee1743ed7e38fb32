package pgagent

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrProviderCallError(t *testing.T) {
	tests := []struct {
		err  *ErrProviderCall
		want string
	}{
		{&ErrProviderCall{Provider: "openai", Status: 401, Message: "invalid api key"}, "openai: http 401: invalid api key"},
		{&ErrProviderCall{Provider: "ollama", Message: "connection refused"}, "ollama: connection refused"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestErrUnsupportedProviderNamesProvider(t *testing.T) {
	e := &ErrUnsupportedProvider{Kind: "embedding", Provider: "cohere"}
	want := `unknown embedding provider: "cohere"`
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retrieval", &ErrRetrieval{Op: "hybrid_search", Err: errBoom}, true},
		{"capture", &ErrCapture{Stage: "store", Err: errBoom}, true},
		{"wrapped capture", fmt.Errorf("turn: %w", &ErrCapture{Stage: "embed", Err: errBoom}), true},
		{"settings", &ErrSettingsRead{Err: errBoom}, false},
		{"provider", &ErrProviderCall{Provider: "openai", Message: "x"}, false},
		{"plain", errBoom, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := IsRecoverable(tt.err); got != tt.want {
			t.Errorf("%s: IsRecoverable = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestErrorsUnwrap(t *testing.T) {
	for _, err := range []error{
		&ErrSettingsRead{Err: errBoom},
		&ErrRetrieval{Op: "full_text_search", Err: errBoom},
		&ErrCapture{Stage: "should_capture", Err: errBoom},
		&ErrProviderCall{Provider: "gemini", Message: "boom", Err: errBoom},
	} {
		if !errors.Is(err, errBoom) {
			t.Errorf("%T does not unwrap to cause", err)
		}
	}
}
