// Package chunker splits long memory text (resource content, transcripts)
// into pieces small enough to embed individually.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// Sizes are in characters (runes).
const (
	DefaultTargetSize = 800
	DefaultMinSize    = 200
	DefaultMaxSize    = 1200
)

// Options configures chunking behavior.
type Options struct {
	TargetSize int
	MinSize    int
	MaxSize    int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetSize: DefaultTargetSize,
		MinSize:    DefaultMinSize,
		MaxSize:    DefaultMaxSize,
	}
}

// ChunkResult represents a chunk with its position in the original text.
type ChunkResult struct {
	Text      string
	StartLine int
	EndLine   int
}

// Texts is Chunk without positions.
func Texts(text string, opts Options) []string {
	chunks := Chunk(text, opts)
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// Chunk splits text into chunks. Short text (<= MaxSize) returns a single chunk.
func Chunk(text string, opts Options) []ChunkResult {
	if opts.TargetSize == 0 {
		opts = DefaultOptions()
	}

	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	if size(text) <= opts.MaxSize {
		lines := strings.Count(text, "\n")
		return []ChunkResult{{Text: text, StartLine: 1, EndLine: lines + 1}}
	}

	return mergeBlocks(splitBlocks(text), opts)
}

func size(s string) int { return utf8.RuneCountInString(s) }

type block struct {
	text      string
	startLine int
	endLine   int
}

// splitBlocks splits text on heading lines and blank lines.
func splitBlocks(text string) []block {
	lines := strings.Split(text, "\n")
	var blocks []block
	var current []string
	startLine := 1

	flush := func(endLine int) {
		if len(current) == 0 {
			return
		}
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			blocks = append(blocks, block{text: t, startLine: startLine, endLine: endLine})
		}
		current = nil
		startLine = endLine + 1
	}

	for i, line := range lines {
		lineNum := i + 1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#") && len(current) > 0 {
			flush(lineNum - 1)
		}
		if trimmed == "" {
			flush(lineNum)
			continue
		}
		current = append(current, line)
	}
	flush(len(lines))

	return blocks
}

// mergeBlocks combines small blocks and splits oversized ones.
func mergeBlocks(blocks []block, opts Options) []ChunkResult {
	var results []ChunkResult
	var accum block

	flushAccum := func() {
		t := strings.TrimSpace(accum.text)
		if t == "" {
			return
		}
		if size(t) > opts.MaxSize {
			results = append(results, hardSplit(t, accum.startLine, opts)...)
		} else {
			results = append(results, ChunkResult{Text: t, StartLine: accum.startLine, EndLine: accum.endLine})
		}
		accum = block{}
	}

	for _, b := range blocks {
		if accum.text == "" {
			accum = b
			continue
		}
		combined := accum.text + "\n\n" + b.text
		if size(combined) <= opts.TargetSize || size(accum.text) < opts.MinSize {
			accum.text = combined
			accum.endLine = b.endLine
		} else {
			flushAccum()
			accum = b
		}
	}
	flushAccum()

	return results
}

// hardSplit breaks text that exceeds MaxSize on line boundaries, and single
// over-long lines (transcripts, OCR) on sentence or word boundaries.
func hardSplit(text string, startLine int, opts Options) []ChunkResult {
	var results []ChunkResult
	var current []string
	curLen := 0
	curStart := startLine

	emit := func(endLine int) {
		t := strings.TrimSpace(strings.Join(current, "\n"))
		if t != "" {
			results = append(results, ChunkResult{Text: t, StartLine: curStart, EndLine: endLine})
		}
		current = nil
		curLen = 0
	}

	for i, line := range strings.Split(text, "\n") {
		lineNum := startLine + i
		for _, piece := range splitLine(line, opts.TargetSize) {
			n := size(piece)
			if curLen+n > opts.TargetSize && len(current) > 0 {
				emit(lineNum)
				curStart = lineNum
			}
			current = append(current, piece)
			curLen += n + 1
		}
	}
	if len(current) > 0 {
		emit(startLine + strings.Count(text, "\n"))
	}
	return results
}

// splitLine cuts a line longer than limit at the last sentence end, else the
// last space, before the limit.
func splitLine(line string, limit int) []string {
	var out []string
	for size(line) > limit {
		runes := []rune(line)
		cut := -1
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
				cut = i + 1
				break
			}
		}
		if cut < 0 {
			for i := limit - 1; i > 0; i-- {
				if runes[i] == ' ' {
					cut = i + 1
					break
				}
			}
		}
		if cut <= 0 {
			cut = limit
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		line = strings.TrimSpace(string(runes[cut:]))
	}
	if line != "" {
		out = append(out, line)
	}
	return out
}
