package refine

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liverRequest(style Style) Request {
	return Request{
		Species:    "Homo sapiens",
		Tissues:    []string{"Liver"},
		Markers:    []string{"ALB", "CD68"},
		Candidates: []string{"Hepatocyte", "Kupffer cell", "Stellate cell", "Cholangiocyte"},
		Style:      style,
	}
}

func TestPrompt_Letter(t *testing.T) {
	p := Prompt(liverRequest(StyleLetter))
	assert.Contains(t, p, "for the Homo sapiens species")
	assert.Contains(t, p, "The tissue context is Liver and the marker genes are ALB, CD68.")
	assert.Contains(t, p, "A) Hepatocyte\nB) Kupffer cell\nC) Stellate cell\nD) Cholangiocyte\n")
	assert.True(t, strings.HasSuffix(p, "Answer (respond with one letter only): "))
}

func TestPrompt_Reasoning(t *testing.T) {
	req := liverRequest(StyleReasoning)
	req.Tissues = nil
	p := Prompt(req)
	assert.Contains(t, p, "Tissue type: All")
	assert.Contains(t, p, "Ranked predictions:\nA) Hepatocyte\n")
	assert.Contains(t, p, `"Answer: "`)
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		style Style
		want  int
	}{
		{"bare letter", "B", StyleLetter, 1},
		{"lower case", "c", StyleLetter, 2},
		{"trailing period", "The answer is D.", StyleLetter, 3},
		{"letter with label", "A) Hepatocyte", StyleLetter, 0},
		{"out of range", "F", StyleLetter, -1},
		{"no letter", "42", StyleLetter, -1},
		{"empty", "   ", StyleLetter, -1},
		{"answer line", "Answer: B\nKupffer cells express CD68.", StyleReasoning, 1},
		{"bold answer line", "**Answer: C**\n\nStellate cells...", StyleReasoning, 2},
		{"answer after preamble", "Looking at the markers.\nAnswer: A) Hepatocyte", StyleReasoning, 0},
		{"first line fallback", "D\nbecause", StyleReasoning, 3},
		{"no answer", "I cannot decide between these.", StyleReasoning, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAnswer(tt.reply, tt.style, 4))
		})
	}
}

func TestSelect(t *testing.T) {
	sel := Select(liverRequest(StyleLetter), "B", "test-model")
	assert.Equal(t, "Kupffer cell", sel.CellType)
	assert.Equal(t, "B", sel.Letter)
	assert.Equal(t, 1, sel.Index)
	assert.Equal(t, "test-model", sel.Model)
	assert.Empty(t, sel.Reasoning)

	sel = Select(liverRequest(StyleLetter), "Z", "test-model")
	assert.Equal(t, Unknown, sel.CellType)
	assert.Equal(t, -1, sel.Index)

	sel = Select(liverRequest(StyleReasoning), "Answer: A\n\n• ALB is hepatocyte specific", "test-model")
	assert.Equal(t, "Hepatocyte", sel.CellType)
	assert.Contains(t, sel.Reasoning, "ALB is hepatocyte specific")
	assert.Contains(t, sel.ReasoningHTML, "<li>")
}

func TestRenderHTML(t *testing.T) {
	out := RenderHTML("**Kupffer cell** expresses *CD68*")
	assert.Contains(t, out, "<strong>Kupffer cell</strong>")
	assert.Contains(t, out, "<em>CD68</em>")
	assert.Empty(t, RenderHTML(""))
}

func TestRequestValidate(t *testing.T) {
	assert.NoError(t, liverRequest(StyleLetter).Validate())
	assert.ErrorIs(t, Request{}.Validate(), ErrNoCandidates)

	req := liverRequest(StyleLetter)
	req.Candidates = make([]string, MaxCandidates+1)
	assert.Error(t, req.Validate())
}

func TestParseStyle(t *testing.T) {
	s, err := ParseStyle("")
	require.NoError(t, err)
	assert.Equal(t, StyleLetter, s)

	s, err = ParseStyle("Reasoning")
	require.NoError(t, err)
	assert.Equal(t, StyleReasoning, s)

	_, err = ParseStyle("essay")
	assert.Error(t, err)
}

func TestNewGeminiRefiner_NoKey(t *testing.T) {
	_, err := NewGeminiRefiner(context.Background(), GeminiConfig{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
