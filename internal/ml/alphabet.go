package ml

import (
	"fmt"
	"strings"
)

// BlankIndex is the CTC blank, always the first alphabet token.
const BlankIndex = 0

// Special tokens that never appear in a decoded word.
var skipTokens = map[string]bool{
	"_":             true,
	"shift":         true,
	"backspace":     true,
	"toNumberState": true,
	"globe":         true,
	"enter":         true,
}

// Alphabet maps between tokens and class indices. Tokens come from a
// pipe-separated string because some of them ("shift", "space", ...)
// are longer than one rune.
type Alphabet struct {
	tokens  []string
	indices map[string]int
}

func NewAlphabet(spec string) (*Alphabet, error) {
	tokens := strings.Split(spec, "|")
	if len(tokens) < 2 {
		return nil, fmt.Errorf("alphabet needs at least a blank and one token, got %q", spec)
	}

	indices := make(map[string]int, len(tokens))
	for i, token := range tokens {
		if _, exists := indices[token]; exists {
			return nil, fmt.Errorf("duplicate alphabet token %q", token)
		}
		indices[token] = i
	}

	return &Alphabet{tokens: tokens, indices: indices}, nil
}

// Size is the number of classes including the blank.
func (a *Alphabet) Size() int {
	return len(a.tokens)
}

// Token returns the token for a class index, or "" when out of range.
func (a *Alphabet) Token(index int) string {
	if index < 0 || index >= len(a.tokens) {
		return ""
	}
	return a.tokens[index]
}

// EncodeWord converts a label word into class indices, one per rune.
// Runes outside the alphabet are dropped.
func (a *Alphabet) EncodeWord(word string) []int {
	label := []int{}
	for _, r := range word {
		if index, ok := a.indices[string(r)]; ok {
			label = append(label, index)
		}
	}
	return label
}

// DecodeIndices renders decoded class indices as a word: special tokens
// are dropped, "space" becomes a space, and the result is trimmed.
func (a *Alphabet) DecodeIndices(indices []int) string {
	var b strings.Builder
	for _, index := range indices {
		token := a.Token(index)
		if token == "" || skipTokens[token] {
			continue
		}
		if token == "space" {
			b.WriteByte(' ')
		} else {
			b.WriteString(token)
		}
	}
	return strings.TrimSpace(b.String())
}
