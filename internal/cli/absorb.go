package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/memoria/internal/model"
)

func init() {
	absorb := &cobra.Command{
		Use:   "absorb [text]",
		Short: "Consolidate observations into memory",
		Long: "Run one absorption cycle. Text can be a positional arg or piped via stdin; " +
			"--bundle reads a JSON bundle of frames instead.",
		RunE: runAbsorb,
	}
	frameFlags(absorb)
	absorb.Flags().String("bundle", "", "JSON file holding {\"frames\": [...]}")
	absorb.Flags().StringSlice("turn", nil, "Recent conversation turn as role:text (repeatable)")

	observe := &cobra.Command{
		Use:   "observe [text]",
		Short: "Buffer one frame; absorbs when the batch is full",
		Long: "Add a frame to the absorption buffer. With the in-memory buffer the batch only " +
			"fills within one process; set buffer.redis_url to accumulate across runs.",
		RunE: runObserve,
	}
	frameFlags(observe)

	flush := &cobra.Command{
		Use:   "flush",
		Short: "Absorb whatever the buffer holds",
		Args:  cobra.NoArgs,
		RunE:  runFlush,
	}

	RootCmd.AddCommand(absorb, observe, flush)
}

func frameFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("image", nil, "Screenshot URI (repeatable)")
	cmd.Flags().String("transcript", "", "Voice transcript")
}

func frameFromFlags(cmd *cobra.Command, args []string) (model.Frame, error) {
	text, err := readInput(args)
	if err != nil {
		return model.Frame{}, err
	}
	images, _ := cmd.Flags().GetStringSlice("image")
	transcript, _ := cmd.Flags().GetString("transcript")
	f := model.Frame{
		Timestamp:  time.Now().UTC(),
		Text:       strings.TrimSpace(text),
		ImageURIs:  images,
		Transcript: transcript,
	}
	if f.Empty() {
		return f, fmt.Errorf("nothing to observe: give text, --image or --transcript")
	}
	return f, nil
}

func runAbsorb(cmd *cobra.Command, args []string) error {
	var b model.Bundle
	if path, _ := cmd.Flags().GetString("bundle"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bundle: %w", err)
		}
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("decode bundle: %w", err)
		}
	} else {
		f, err := frameFromFlags(cmd, args)
		if err != nil {
			return err
		}
		b.Frames = []model.Frame{f}
	}

	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	turns, _ := cmd.Flags().GetStringSlice("turn")
	for _, t := range turns {
		role, text, ok := strings.Cut(t, ":")
		if !ok {
			role, text = "user", t
		}
		e.AddTurn(model.Turn{Role: strings.TrimSpace(role), Text: strings.TrimSpace(text)})
	}

	counts, err := e.Absorb(cmd.Context(), b)
	if err != nil {
		return err
	}
	return printCounts(cmd, counts)
}

func runObserve(cmd *cobra.Command, args []string) error {
	f, err := frameFromFlags(cmd, args)
	if err != nil {
		return err
	}
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	counts, err := e.Observe(cmd.Context(), f)
	if err != nil {
		return err
	}
	if counts == nil {
		n, err := e.Deps().Buffer.Len(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"buffered": n, "batch_size": e.Config().Buffer.BatchSize})
	}
	return printCounts(cmd, counts)
}

func runFlush(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	counts, err := e.Flush(cmd.Context())
	if err != nil {
		return err
	}
	return printCounts(cmd, counts)
}

func printCounts(cmd *cobra.Command, counts map[model.StoreName]int) error {
	if !textOutput() {
		return printJSON(cmd.OutOrStdout(), map[string]any{"written": counts})
	}
	if len(counts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing written")
		return nil
	}
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, string(n))
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", n, counts[model.StoreName(n)])
	}
	return nil
}
