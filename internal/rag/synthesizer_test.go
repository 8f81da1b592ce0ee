package rag

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func confidentRetrieval() *Retrieval {
	return &Retrieval{
		Gate: GateConfident,
		Results: []QueryResult{
			{DocumentID: "d1", Content: "Cats are mammals.", SimilarityScore: 0.8},
			{DocumentID: "d2", Content: "Dogs bark.", SimilarityScore: 0.4},
		},
	}
}

func TestSynthesizer_GeneratesWithPrompts(t *testing.T) {
	gen := &fakeGenerator{text: "  Cats are mammals.  "}
	s := NewSynthesizer(gen, time.Second, nil)

	out := s.Synthesize(context.Background(), "What are cats?", confidentRetrieval())
	assert.Equal(t, OutcomeGenerated, out.Kind)
	assert.Equal(t, "Cats are mammals.", FormatAnswer(out, nil))

	assert.Equal(t, SystemPrompt(), gen.system)
	assert.Contains(t, gen.user, "Relevant text (similarity: 0.80):\nCats are mammals.\n\nRelevant text (similarity: 0.40):\nDogs bark.")
	assert.Contains(t, gen.user, "Question: What are cats?")
	assert.Contains(t, gen.user, `simply say "I don't have enough information to answer this question."`)
}

func TestSynthesizer_GenerationFailureFallsBack(t *testing.T) {
	for name, gen := range map[string]*fakeGenerator{
		"error": {err: errBoom},
		"empty": {text: "   "},
	} {
		t.Run(name, func(t *testing.T) {
			s := NewSynthesizer(gen, time.Second, nil)
			out := s.Synthesize(context.Background(), "What are cats?", confidentRetrieval())

			assert.Equal(t, OutcomeFallbackError, out.Kind)
			assert.True(t, IsKind(out.Err, KindGenerationFailure))
			text := FormatAnswer(out, nil)
			assert.True(t, strings.HasPrefix(text, "I found some potentially relevant information, but couldn't generate a proper answer due to an API error."))
			assert.True(t, strings.HasSuffix(text, "\n\nCats are mammals."))
		})
	}
}

func TestSynthesizer_UnconfiguredGenerator(t *testing.T) {
	var chat *ChatGenerator
	for _, gen := range []Generator{nil, chat, NewChatGenerator(nil, 0.7, 300)} {
		s := NewSynthesizer(gen, 0, nil)
		out := s.Synthesize(context.Background(), "q", confidentRetrieval())
		assert.Equal(t, OutcomeFallbackUnconfigured, out.Kind)
		assert.Equal(t,
			"I found some potentially relevant information, but the OpenAI API is not configured. Here's the most relevant content:\n\nCats are mammals.",
			FormatAnswer(out, nil))
	}
}

func TestSynthesizer_GatesBypassGeneration(t *testing.T) {
	gen := &fakeGenerator{text: "should not be used"}
	s := NewSynthesizer(gen, 0, nil)

	out := s.Synthesize(context.Background(), "q", &Retrieval{Gate: GateNoMatch})
	assert.Equal(t, OutcomeNoMatch, out.Kind)
	assert.Equal(t,
		"I couldn't find any relevant information in the documents. Here are the documents I have access to:\n- Animals\n- Geography\n",
		FormatAnswer(out, []string{"Animals", "Geography"}))

	low := confidentRetrieval()
	low.Gate = GateLowRelevance
	out = s.Synthesize(context.Background(), "q", low)
	assert.Equal(t, OutcomeLowRelevance, out.Kind)
	assert.Equal(t,
		"While I found some documents, they don't seem to contain very relevant information about your question. Here's what I found:\n\nCats are mammals.",
		FormatAnswer(out, nil))

	assert.Equal(t, 0, gen.calls)
}

func TestSynthesizer_TimeoutBoundsGeneration(t *testing.T) {
	gen := blockingGenerator{}
	s := NewSynthesizer(gen, 20*time.Millisecond, nil)

	start := time.Now()
	out := s.Synthesize(context.Background(), "q", confidentRetrieval())
	require.Equal(t, OutcomeFallbackError, out.Kind)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

type blockingGenerator struct{}

func (blockingGenerator) Complete(ctx context.Context, system, user string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
