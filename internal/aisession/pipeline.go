package aisession

import (
	"context"
	"strings"

	"github.com/voiceagent/broker/internal/provider/llm"
)

// drainAndForward reads chunks from ch, accumulates them into complete
// sentences, and writes each sentence to textCh as soon as it is complete
// so TTS can start before the model finishes its turn. Any trailing
// partial sentence is flushed when the stream ends. The full reply text
// and every tool call observed are accumulated into reply/toolCalls for
// the caller to persist to history after the cycle completes.
//
// Grounded on the single-model reduction of glyphoxa's dual-model
// sentence cascade (internal/engine/cascade/cascade.go's forwardSentences):
// this pipeline has one LLM call per turn, not glyphoxa's fast/strong
// split, so there is no opener stage to stitch around.
func drainAndForward(ctx context.Context, ch <-chan llm.Chunk, textCh chan<- string, reply *strings.Builder, toolCalls *[]llm.ToolCall) {
	defer close(textCh)

	var buf strings.Builder
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				flushRemainder(ctx, textCh, &buf)
				return
			}

			buf.WriteString(chunk.Text)
			reply.WriteString(chunk.Text)
			*toolCalls = append(*toolCalls, chunk.ToolCalls...)

			for {
				idx := firstSentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := buf.String()[idx+1:]
				buf.Reset()
				buf.WriteString(strings.TrimLeft(rest, " \t\n\r"))
				select {
				case textCh <- sentence:
				case <-ctx.Done():
					return
				}
			}

			if chunk.FinishReason != "" {
				flushRemainder(ctx, textCh, &buf)
				return
			}
		}
	}
}

func flushRemainder(ctx context.Context, textCh chan<- string, buf *strings.Builder) {
	if buf.Len() == 0 {
		return
	}
	select {
	case textCh <- buf.String():
	case <-ctx.Done():
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// character immediately followed by whitespace, or -1 if none exists.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
