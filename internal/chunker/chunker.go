// Package chunker splits document text into bounded, overlapping chunks for
// embedding. Splitting is deterministic: the same input always yields the
// same chunk sequence.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 900

	// DefaultOverlap is the number of trailing characters of a chunk carried
	// into the start of the next one.
	DefaultOverlap = 120
)

// Options configures chunk splitting.
type Options struct {
	// ChunkSize is the maximum chunk length in characters. Zero or negative
	// selects DefaultChunkSize.
	ChunkSize int

	// Overlap is the carried-over suffix length in characters. Negative
	// selects zero; values >= ChunkSize are clamped to ChunkSize/4.
	Overlap int
}

func (o Options) normalized() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	// Overlap must stay below the chunk size or packing cannot make progress.
	if o.Overlap >= o.ChunkSize {
		o.Overlap = o.ChunkSize / 4
	}
	return o
}

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)

// sentenceTerminators covers Latin and CJK sentence-ending punctuation.
const sentenceTerminators = ".!?。！？…"

// Split breaks text into ordered chunks of at most opts.ChunkSize characters,
// each chunk after the first prefixed with the trailing opts.Overlap
// characters of its predecessor.
//
// Paragraphs are the packing unit; paragraphs longer than the chunk size are
// split on sentence boundaries. A single sentence longer than the chunk size
// is kept as its own oversized chunk rather than failing.
func Split(text string, opts Options) []string {
	opts = opts.normalized()

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= opts.ChunkSize {
		return []string{text}
	}

	var pieces []string
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= opts.ChunkSize {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, splitSentences(para)...)
	}

	packed := pack(pieces, opts.ChunkSize)
	return applyOverlap(packed, opts.Overlap)
}

// splitSentences splits a paragraph after runs of sentence-terminating
// punctuation. The trailing fragment without a terminator is kept as-is.
func splitSentences(para string) []string {
	var out []string
	start := 0
	runes := []rune(para)
	for i := 0; i < len(runes); i++ {
		if !strings.ContainsRune(sentenceTerminators, runes[i]) {
			continue
		}
		// Consume the whole terminator run ("...", "?!", etc).
		for i+1 < len(runes) && strings.ContainsRune(sentenceTerminators, runes[i+1]) {
			i++
		}
		s := strings.TrimSpace(string(runes[start : i+1]))
		if s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// pack greedily accumulates pieces joined by a blank line while the running
// length in runes stays within chunkSize. A piece that alone exceeds chunkSize
// becomes its own oversized chunk.
func pack(pieces []string, chunkSize int) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0
	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if cur.Len() == 0 {
			cur.WriteString(piece)
			curLen = n
			continue
		}
		if curLen+2+n > chunkSize {
			chunks = append(chunks, cur.String())
			cur.Reset()
			cur.WriteString(piece)
			curLen = n
			continue
		}
		cur.WriteString("\n\n")
		cur.WriteString(piece)
		curLen += 2 + n
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// applyOverlap prepends to every chunk after the first the trailing overlap
// characters of the previous chunk's packed text, separated by a newline.
func applyOverlap(packed []string, overlap int) []string {
	if overlap <= 0 || len(packed) < 2 {
		return packed
	}
	out := make([]string, len(packed))
	out[0] = packed[0]
	for i := 1; i < len(packed); i++ {
		out[i] = tail(packed[i-1], overlap) + "\n" + packed[i]
	}
	return out
}

// tail returns the trailing n characters of s without splitting a rune.
func tail(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
