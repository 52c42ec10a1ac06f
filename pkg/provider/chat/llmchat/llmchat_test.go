package llmchat_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/advisorsim/pkg/provider/chat"
	"github.com/MrWong99/advisorsim/pkg/provider/chat/llmchat"
	"github.com/MrWong99/advisorsim/pkg/provider/llm"
	llmmock "github.com/MrWong99/advisorsim/pkg/provider/llm/mock"
	"github.com/MrWong99/advisorsim/pkg/types"
)

func TestValidate_NilProvider(t *testing.T) {
	t.Parallel()

	p := llmchat.New(nil)
	if err := p.Validate(); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("Validate() = %v, want ErrConfiguration", err)
	}
	if _, err := p.Open(context.Background(), chat.Config{}); !errors.Is(err, types.ErrConfiguration) {
		t.Errorf("Open() = %v, want ErrConfiguration", err)
	}
}

func TestSend_ReplaysHistory(t *testing.T) {
	t.Parallel()

	backend := &llmmock.Provider{
		CompleteFunc: func(_ context.Context, call int, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: fmt.Sprintf("reply %d", call)}, nil
		},
	}
	ch, err := llmchat.New(backend).Open(context.Background(), chat.Config{SystemInstruction: "Tu es Sarah.", Temperature: 0.7})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if got, _ := ch.Send(context.Background(), "Bonjour"); got != "reply 0" {
		t.Errorf("first reply = %q", got)
	}
	if got, _ := ch.Send(context.Background(), "Et vous ?"); got != "reply 1" {
		t.Errorf("second reply = %q", got)
	}

	calls := backend.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	req := calls[1].Req
	if req.SystemPrompt != "Tu es Sarah." || req.Temperature != 0.7 {
		t.Errorf("request config = %q / %v", req.SystemPrompt, req.Temperature)
	}
	want := []types.Message{
		{Role: "user", Content: "Bonjour"},
		{Role: "assistant", Content: "reply 0"},
		{Role: "user", Content: "Et vous ?"},
	}
	if len(req.Messages) != len(want) {
		t.Fatalf("messages = %+v, want %+v", req.Messages, want)
	}
	for i := range want {
		if req.Messages[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, req.Messages[i], want[i])
		}
	}
}

func TestSend_FailureKeepsHistory(t *testing.T) {
	t.Parallel()

	fail := true
	backend := &llmmock.Provider{
		CompleteFunc: func(_ context.Context, _ int, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if fail {
				return nil, fmt.Errorf("boom: %w", types.ErrTransient)
			}
			return &llm.CompletionResponse{Content: "ok"}, nil
		},
	}
	ch, _ := llmchat.New(backend).Open(context.Background(), chat.Config{})

	_, err := ch.Send(context.Background(), "lost")
	if !errors.Is(err, types.ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient preserved", err)
	}

	fail = false
	if _, err := ch.Send(context.Background(), "kept"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := backend.Calls()
	msgs := calls[len(calls)-1].Req.Messages
	if len(msgs) != 1 || msgs[0].Content != "kept" {
		t.Errorf("messages after failure = %+v, want only the new message", msgs)
	}
}

func TestSend_AfterClose(t *testing.T) {
	t.Parallel()

	ch, _ := llmchat.New(&llmmock.Provider{}).Open(context.Background(), chat.Config{})
	_ = ch.Close()
	if _, err := ch.Send(context.Background(), "hi"); err == nil {
		t.Error("Send after Close succeeded")
	}
}
