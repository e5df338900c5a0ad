package docchat

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"docchat/src/core/index"
)

const systemPrompt = `You are a helpful AI assistant that answers questions based on the provided document context.
Answer the question based ONLY on the provided context.
If the answer cannot be found in the context, say "I cannot find that information in the provided document".
Be concise but comprehensive, quote specific parts of the document when relevant, and maintain a helpful and professional tone.`

// tokenizer measures and trims text in model tokens. The context budget is
// expressed in tokens, not runes, so truncation must happen on token
// boundaries.
type tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

var (
	encoderOnce sync.Once
	encoder     tokenizer
	encoderErr  error
)

// defaultTokenizer returns the shared cl100k_base tokenizer, loading the
// encoding tables on first use.
func defaultTokenizer() (tokenizer, error) {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			encoderErr = fmt.Errorf("failed to load token encoder: %w", err)
			return
		}
		encoder = &tiktokenTokenizer{enc: enc}
	})
	return encoder, encoderErr
}

// buildPrompt assembles the generation input: retrieved chunks in
// descending relevance under a token budget, then the recent conversation,
// then the question. At least one chunk is always included; when the
// budget runs out mid-chunk the lowest ranked included chunk is truncated
// at a token boundary rather than dropped.
func buildPrompt(tok tokenizer, results []index.Result, history []Message, question string, maxContextTokens int) (system string, prompt string) {
	var sections []string
	remaining := maxContextTokens
	for i, res := range results {
		tokens := tok.Encode(res.Chunk.Text)
		if len(tokens) <= remaining {
			sections = append(sections, res.Chunk.Text)
			remaining -= len(tokens)
			if remaining == 0 {
				break
			}
			continue
		}

		// Partial fit, or the very first chunk alone overflowing the
		// budget. Cut at a token boundary and stop.
		cut := remaining
		if i == 0 && cut <= 0 {
			cut = maxContextTokens
		}
		if cut > 0 {
			sections = append(sections, tok.Decode(tokens[:cut]))
		}
		break
	}

	var b strings.Builder
	b.WriteString("Context:\n")
	for i, section := range sections {
		fmt.Fprintf(&b, "[Section %d]\n%s\n\n", i+1, section)
	}

	if conversation := formatHistory(history); conversation != "" {
		b.WriteString("Conversation so far:\n")
		b.WriteString(conversation)
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")

	return systemPrompt, b.String()
}

// formatHistory renders prior turns for the prompt, skipping incomplete
// answers so an aborted generation cannot steer the next one.
func formatHistory(history []Message) string {
	var b strings.Builder
	for _, msg := range history {
		if msg.Incomplete {
			continue
		}
		switch msg.Role {
		case RoleUser:
			fmt.Fprintf(&b, "User: %s\n", msg.Content)
		case RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", msg.Content)
		}
	}
	return b.String()
}
