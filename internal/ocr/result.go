package ocr

import (
	"strings"
	"unicode/utf8"
)

// ChunkStatus tags how much of a chunk's content survived recognition.
type ChunkStatus int

const (
	// ChunkDropped chunks contribute nothing to the output but keep their slot.
	ChunkDropped ChunkStatus = iota
	// ChunkComplete chunks finished normally.
	ChunkComplete
	// ChunkPartial chunks stopped early; the salvaged text is kept.
	ChunkPartial
)

func (s ChunkStatus) String() string {
	switch s {
	case ChunkComplete:
		return "complete"
	case ChunkPartial:
		return "partial"
	case ChunkDropped:
		return "dropped"
	}
	return "unknown"
}

// ChunkResult is the recognition outcome for one split part.
type ChunkResult struct {
	PartNumber   int
	Name         string
	Status       ChunkStatus
	Text         string
	CharCount    int
	TokenCount   int
	FinishReason string
	Err          error
}

// Kept reports whether the chunk contributes to the aggregate.
func (c ChunkResult) Kept() bool {
	switch c.Status {
	case ChunkComplete, ChunkPartial:
		return true
	case ChunkDropped:
		return false
	}
	return false
}

func completeChunk(part int, name, text string, tokens int, reason string) ChunkResult {
	return ChunkResult{PartNumber: part, Name: name, Status: ChunkComplete, Text: text, CharCount: utf8.RuneCountInString(text), TokenCount: tokens, FinishReason: reason}
}

func partialChunk(part int, name, text string, tokens int, reason string) ChunkResult {
	return ChunkResult{PartNumber: part, Name: name, Status: ChunkPartial, Text: text, CharCount: utf8.RuneCountInString(text), TokenCount: tokens, FinishReason: reason}
}

func droppedChunk(part int, name, reason string, err error) ChunkResult {
	return ChunkResult{PartNumber: part, Name: name, Status: ChunkDropped, FinishReason: reason, Err: err}
}

// Result is the outcome of one document run, ordered by part number.
type Result struct {
	Chunks []ChunkResult
}

// Text joins the surviving chunk texts with newlines, in part order.
// Dropped chunks leave no placeholder.
func (r *Result) Text() string {
	texts := make([]string, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		if c.Kept() {
			texts = append(texts, c.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// TotalTokens sums token usage over surviving chunks.
func (r *Result) TotalTokens() int {
	total := 0
	for _, c := range r.Chunks {
		if c.Kept() {
			total += c.TokenCount
		}
	}
	return total
}

// Count returns how many chunks ended with the given status.
func (r *Result) Count(status ChunkStatus) int {
	n := 0
	for _, c := range r.Chunks {
		if c.Status == status {
			n++
		}
	}
	return n
}
