// Package refine asks a language model to pick the most likely cell type from a
// short ranked candidate list.
package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MaxCandidates is the largest candidate list sent to a refiner.
const MaxCandidates = 10

// Unknown is the cell type reported when the answer names no candidate.
const Unknown = "Unknown"

var (
	// ErrUnavailable indicates no refiner is configured or it cannot be reached.
	ErrUnavailable = errors.New("refinement unavailable")
	// ErrNoCandidates is returned for a request without candidates.
	ErrNoCandidates = errors.New("no candidates to refine")
)

// Style selects the prompt sent to the model.
type Style string

const (
	// StyleLetter asks for a single option letter.
	StyleLetter Style = "letter"
	// StyleReasoning asks for the option letter followed by an explanation.
	StyleReasoning Style = "reasoning"
)

// ParseStyle accepts "letter", "reasoning", or "" (letter).
func ParseStyle(s string) (Style, error) {
	switch Style(strings.ToLower(strings.TrimSpace(s))) {
	case "", StyleLetter:
		return StyleLetter, nil
	case StyleReasoning:
		return StyleReasoning, nil
	}
	return "", fmt.Errorf("unknown refinement style %q", s)
}

// Request is the context handed to a refiner.
type Request struct {
	Species    string   `json:"species"`
	Tissues    []string `json:"tissues"`
	Markers    []string `json:"markers"`
	Candidates []string `json:"candidates"`
	Style      Style    `json:"style"`
}

// Validate checks the candidate list.
func (r Request) Validate() error {
	if len(r.Candidates) == 0 {
		return ErrNoCandidates
	}
	if len(r.Candidates) > MaxCandidates {
		return fmt.Errorf("too many candidates: %d (max %d)", len(r.Candidates), MaxCandidates)
	}
	return nil
}

// Selection is a refiner's answer.
type Selection struct {
	CellType      string `json:"cell_type"`
	Letter        string `json:"letter,omitempty"`
	Index         int    `json:"index"`
	Reasoning     string `json:"reasoning,omitempty"`
	ReasoningHTML string `json:"reasoning_html,omitempty"`
	Model         string `json:"model,omitempty"`
}

// Refiner picks one candidate from a request.
type Refiner interface {
	Refine(ctx context.Context, req Request) (*Selection, error)
}

// Letter returns the option letter for index i (0 -> "A").
func Letter(i int) string {
	return string(rune('A' + i))
}

// Prompt builds the model prompt for req.
func Prompt(req Request) string {
	tissues := strings.Join(req.Tissues, ", ")
	if tissues == "" {
		tissues = "All"
	}
	markers := strings.Join(req.Markers, ", ")

	var options strings.Builder
	for i, c := range req.Candidates {
		fmt.Fprintf(&options, "%s) %s\n", Letter(i), c)
	}

	if req.Style == StyleReasoning {
		return fmt.Sprintf(`You are an expert in cell type annotation for the %s species. Based on a set of ranked predictions derived from marker genes and tissue context, select the most likely cell type. The predictions are ranked from most to least likely.

Marker genes: %s
Tissue type: %s

Ranked predictions:
%s
Start your answer with "Answer: " and the letter of the most likely cell type on its own line, then provide your reasoning.`,
			req.Species, markers, tissues, options.String())
	}

	return fmt.Sprintf(`You are an annotator of cell types for the %s species. You will be given marker genes and tissue context.
Question: The tissue context is %s and the marker genes are %s.
What is the most likely cell type among the following options?
%sAnswer (respond with one letter only): `,
		req.Species, tissues, markers, options.String())
}

// ParseAnswer maps a model reply to a candidate index, or -1 when it names none.
// Letter replies are read from a leading single-letter token, else from their
// last letter. Reasoning replies are read from the "Answer:" line, falling back
// to the first line.
func ParseAnswer(text string, style Style, n int) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return -1
	}

	var answer string
	if style == StyleReasoning {
		answer = answerLine(text)
	} else if tok := firstToken(text); len(tok) == 1 {
		answer = tok
	} else {
		answer = text
	}

	r, ok := lastLetter(answer)
	if !ok {
		return -1
	}
	idx := int(unicode.ToUpper(r) - 'A')
	if idx < 0 || idx >= n {
		return -1
	}
	return idx
}

func answerLine(text string) string {
	lines := strings.Split(text, "\n")
	for _, line := range lines {
		l := strings.TrimSpace(strings.Trim(line, "*#> "))
		if strings.HasPrefix(strings.ToLower(l), "answer:") {
			return firstToken(strings.TrimSpace(l[len("answer:"):]))
		}
	}
	return firstToken(strings.TrimSpace(strings.Trim(lines[0], "*#> ")))
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimRight(fields[0], ").:,*")
}

func lastLetter(s string) (rune, bool) {
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if s == "" {
		return 0, false
	}
	runes := []rune(s)
	r := runes[len(runes)-1]
	if r > unicode.MaxASCII || !unicode.IsLetter(r) {
		return 0, false
	}
	return r, true
}

// Select builds a Selection from a raw model reply.
func Select(req Request, reply, model string) *Selection {
	sel := &Selection{CellType: Unknown, Index: -1, Model: model}
	if idx := ParseAnswer(reply, req.Style, len(req.Candidates)); idx >= 0 {
		sel.Index = idx
		sel.Letter = Letter(idx)
		sel.CellType = req.Candidates[idx]
	}
	if req.Style == StyleReasoning {
		sel.Reasoning = strings.TrimSpace(reply)
		sel.ReasoningHTML = RenderHTML(sel.Reasoning)
	}
	return sel
}

// RenderHTML converts markdown reasoning text to HTML. Bullet characters are
// rewritten as list items first.
func RenderHTML(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "•", "  *")
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return string(markdown.ToHTML([]byte(text), p, renderer))
}
