package streaming

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"onyx-chat/internal/chat"
	"onyx-chat/internal/llm"
)

type fakeLLM struct {
	chunks []string
	err    error
	got    []llm.Message
}

func (f *fakeLLM) Generate(ctx context.Context, msgs []llm.Message) (llm.Response, error) {
	return llm.Response{}, nil
}

func (f *fakeLLM) Stream(ctx context.Context, msgs []llm.Message, onChunk llm.ChunkFunc) (llm.Response, error) {
	f.got = msgs
	for _, c := range f.chunks {
		onChunk(c)
	}
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Content: "ignored"}, nil
}

func TestStreamResponse_ReturnsLastCumulative(t *testing.T) {
	f := &fakeLLM{chunks: []string{"Hel", "Hello", "Hello!"}}
	c := New(f, "sys", 20)
	var seen []string
	final, err := c.StreamResponse(context.Background(), nil, "hi", func(s string) { seen = append(seen, s) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if final != "Hello!" || len(seen) != 3 || seen[1] != "Hello" {
		t.Fatalf("final=%q seen=%q", final, seen)
	}
}

func TestStreamResponse_NoChunksGivesEmpty(t *testing.T) {
	c := New(&fakeLLM{}, "", 20)
	final, err := c.StreamResponse(context.Background(), nil, "hi", nil)
	if err != nil || final != "" {
		t.Fatalf("final=%q err=%v", final, err)
	}
}

func TestStreamResponse_PropagatesFailure(t *testing.T) {
	boom := errors.New("boom")
	c := New(&fakeLLM{chunks: []string{"Partial"}, err: boom}, "", 20)
	var seen []string
	final, err := c.StreamResponse(context.Background(), nil, "hi", func(s string) { seen = append(seen, s) })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if final != "Partial" || len(seen) != 1 {
		t.Fatalf("partial text not delivered: final=%q seen=%q", final, seen)
	}
}

func TestContext_WindowedWithSystemAndNewText(t *testing.T) {
	var prior []chat.Message
	for i := 0; i < 25; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleModel
		}
		prior = append(prior, chat.Message{ID: fmt.Sprint(i), Role: role, Text: fmt.Sprint("m", i)})
	}
	prior[24].IsError = true
	f := &fakeLLM{}
	c := New(f, "sys", 20)
	if _, err := c.StreamResponse(context.Background(), prior, "new", nil); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(f.got) != 22 {
		t.Fatalf("len = %d, want system + 20 + new", len(f.got))
	}
	if f.got[0].Role != llm.RoleSystem || f.got[0].Content != "sys" {
		t.Fatalf("system missing: %+v", f.got[0])
	}
	if f.got[1].Content != "m4" || f.got[20].Content != "m23" {
		t.Fatalf("window bounds: %q..%q", f.got[1].Content, f.got[20].Content)
	}
	if last := f.got[21]; last.Role != llm.RoleUser || last.Content != "new" {
		t.Fatalf("new text not last: %+v", last)
	}
}
