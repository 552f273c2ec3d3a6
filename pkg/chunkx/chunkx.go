// Package chunkx splits text into overlapping chunks sized for embedding
// models.
//
// It prefers token-accurate boundaries via tiktoken-go and falls back to a
// character splitter with a 4 chars/token heuristic when the encoding cannot
// be initialized (e.g. no cached BPE data available offline).
package chunkx

import (
	"log/slog"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

const (
	// DefaultChunkSize is the target chunk size in tokens.
	DefaultChunkSize = 1024
	// DefaultOverlap is the token overlap between consecutive chunks.
	DefaultOverlap = 128
	// charsPerToken approximates tokens when only characters can be counted.
	charsPerToken = 4

	encodingName = "cl100k_base"
)

// Splitter produces ordered, overlapping chunks of a text.
type Splitter struct {
	chunkSize int
	overlap   int

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewSplitter returns a splitter with the given token-denominated size and
// overlap. Non-positive values fall back to the defaults.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
		if overlap >= chunkSize {
			overlap = chunkSize / 8
		}
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}
}

func (s *Splitter) encoding() *tiktoken.Tiktoken {
	s.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			slog.Warn("tiktoken encoding unavailable, using character splitter",
				slog.String("encoding", encodingName), slog.Any("error", err))
			return
		}
		s.enc = enc
	})
	return s.enc
}

// Split divides text into chunks. Empty input yields no chunks.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	if enc := s.encoding(); enc != nil {
		return s.splitTokens(enc, text)
	}
	return s.splitChars(text)
}

func (s *Splitter) splitTokens(enc *tiktoken.Tiktoken, text string) []string {
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= s.chunkSize {
		return []string{text}
	}
	step := s.chunkSize - s.overlap
	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + s.chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, enc.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// splitChars preserves the token size ratio using the chars/token heuristic.
func (s *Splitter) splitChars(text string) []string {
	size := s.chunkSize * charsPerToken
	overlap := s.overlap * charsPerToken
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
