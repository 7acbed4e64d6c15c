package memory

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rcliao/memoria/internal/llm"
)

// Rewriter condenses the lines of a core block that is near capacity.
type Rewriter interface {
	Rewrite(ctx context.Context, label string, lines []string) ([]string, error)
}

// GeneratorRewriter asks a language model to rewrite a block.
type GeneratorRewriter struct {
	Gen llm.Generator
}

const rewriteSystem = `You maintain a persistent memory block about an assistant's user or persona.
Rewrite the block so it keeps every distinct fact but uses fewer characters:
merge related lines, drop repetition, keep wording plain. Output one fact per
line and nothing else.`

// Rewrite implements Rewriter.
func (r GeneratorRewriter) Rewrite(ctx context.Context, label string, lines []string) ([]string, error) {
	if r.Gen == nil {
		return nil, llm.ErrUnavailable
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Block %q currently holds %d lines:\n", label, len(lines))
	for i, l := range lines {
		fmt.Fprintf(&b, "%d. %s\n", i+1, l)
	}
	b.WriteString("\nReturn the rewritten block.")

	out, err := r.Gen.Complete(ctx, rewriteSystem, b.String())
	if err != nil {
		return nil, err
	}
	return strings.Split(out, "\n"), nil
}

var listMarker = regexp.MustCompile(`^\s*(?:\d+[.):]|[-*•])\s+`)

// cleanLines strips list numbering and bullets and drops blank lines.
func cleanLines(raw []string) []string {
	var out []string
	for _, l := range raw {
		l = strings.TrimSpace(listMarker.ReplaceAllString(l, ""))
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
