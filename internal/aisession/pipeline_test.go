package aisession

import (
	"context"
	"strings"
	"testing"

	"github.com/voiceagent/broker/internal/provider/llm"
)

func TestFirstSentenceBoundary(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"Hello world", -1},
		{"Hello. World", 5},
		{"Wait... really?", 6},
		{"No terminal punctuation", -1},
		{"Edge case.", -1}, // no trailing whitespace after the period
	}
	for _, c := range cases {
		if got := firstSentenceBoundary(c.in); got != c.want {
			t.Errorf("firstSentenceBoundary(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestDrainAndForwardSplitsCompleteSentences(t *testing.T) {
	ch := make(chan llm.Chunk, 4)
	ch <- llm.Chunk{Text: "Claro, "}
	ch <- llm.Chunk{Text: "um momento. "}
	ch <- llm.Chunk{Text: "Vou transferir agora", FinishReason: "tool_calls", ToolCalls: []llm.ToolCall{{ID: "1", Name: "transfer_call", Arguments: `{"target":"1001"}`}}}
	close(ch)

	textCh := make(chan string, 8)
	var reply strings.Builder
	var toolCalls []llm.ToolCall

	done := make(chan struct{})
	go func() {
		drainAndForward(context.Background(), ch, textCh, &reply, &toolCalls)
		close(done)
	}()

	var sentences []string
	for s := range textCh {
		sentences = append(sentences, s)
	}
	<-done

	if len(sentences) != 2 {
		t.Fatalf("got %d sentences, want 2: %v", len(sentences), sentences)
	}
	if sentences[0] != "Claro, um momento." {
		t.Fatalf("sentences[0] = %q", sentences[0])
	}
	if sentences[1] != "Vou transferir agora" {
		t.Fatalf("sentences[1] = %q", sentences[1])
	}
	if reply.String() != "Claro, um momento. Vou transferir agora" {
		t.Fatalf("reply = %q", reply.String())
	}
	if len(toolCalls) != 1 || toolCalls[0].Name != "transfer_call" {
		t.Fatalf("toolCalls = %+v", toolCalls)
	}
}

func TestDrainAndForwardClosesOnContextCancel(t *testing.T) {
	ch := make(chan llm.Chunk)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	textCh := make(chan string, 1)
	var reply strings.Builder
	var toolCalls []llm.ToolCall

	drainAndForward(ctx, ch, textCh, &reply, &toolCalls)

	if _, ok := <-textCh; ok {
		t.Fatal("textCh should be closed with nothing sent once ctx is already cancelled")
	}
}
