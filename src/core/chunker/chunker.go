package chunker

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Chunk is a contiguous slice of a document's extracted text. Indices are
// contiguous from 0 and define the reading order; Start and Length are rune
// offsets into the source text.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	Length     int    `json:"length"`
}

// Chunker splits text into overlapping, bounded-size chunks. The unit is
// runes throughout: chunk size, overlap and offsets all count runes.
//
// Each window ends at most chunkSize runes after its start; the end is pulled
// back to the nearest natural boundary within a small lookback when one
// exists. The next window starts exactly overlap runes before the previous
// end, so consecutive chunks share exactly overlap runes and concatenating
// the chunks with that shared prefix removed reconstructs the input.
type Chunker struct {
	chunkSize int
	overlap   int
	lookback  int
}

func New(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, chunk size), got %d", ErrInvalidConfig, overlap)
	}

	lookback := chunkSize / 5
	if lookback < 1 {
		lookback = 1
	}

	return &Chunker{
		chunkSize: chunkSize,
		overlap:   overlap,
		lookback:  lookback,
	}, nil
}

// Chunk splits text into ordered chunks owned by documentID. Empty input
// yields no chunks and no error.
func (c *Chunker) Chunk(documentID, text string) ([]Chunk, error) {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	var chunks []Chunk
	start := 0
	for index := 0; ; index++ {
		end := start + c.chunkSize
		if end >= n {
			end = n
		} else {
			end = c.snapEnd(runes, start, end)
		}

		chunks = append(chunks, Chunk{
			DocumentID: documentID,
			Index:      index,
			Text:       string(runes[start:end]),
			Start:      start,
			Length:     end - start,
		})

		if end >= n {
			return chunks, nil
		}
		start = end - c.overlap
	}
}

// boundary classes in descending preference order
const (
	boundaryParagraph = iota
	boundaryLine
	boundarySentence
	boundaryWord
	boundaryNone
)

// snapEnd pulls a raw cut position back to the closest natural boundary
// within the lookback window. A cut at position j splits between runes j-1
// and j. Snapping never stalls the window: the returned end always leaves a
// stride of at least one rune.
func (c *Chunker) snapEnd(runes []rune, start, end int) int {
	lo := end - c.lookback
	if min := start + c.overlap + 1; lo < min {
		lo = min
	}

	bestClass := boundaryNone
	bestPos := end
	for j := end; j > lo; j-- {
		class := boundaryAt(runes, j)
		if class < bestClass {
			bestClass = class
			bestPos = j
			if class == boundaryParagraph {
				break
			}
		}
	}

	return bestPos
}

func boundaryAt(runes []rune, j int) int {
	prev := runes[j-1]
	switch {
	case prev == '\n' && j >= 2 && runes[j-2] == '\n':
		return boundaryParagraph
	case prev == '\n':
		return boundaryLine
	case prev == '.' || prev == '!' || prev == '?':
		return boundarySentence
	case prev == ' ' || prev == '\t':
		return boundaryWord
	default:
		return boundaryNone
	}
}
