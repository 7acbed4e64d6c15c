package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memoria/internal/model"
)

func init() {
	core := &cobra.Command{
		Use:   "core",
		Short: "Inspect and edit core memory blocks",
	}

	show := &cobra.Command{
		Use:   "show [label]",
		Short: "Show core blocks",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCoreShow,
	}
	appendCmd := &cobra.Command{
		Use:   "append <label> <line>",
		Short: "Append a line to a block, compacting it near capacity",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runCoreAppend,
	}
	replace := &cobra.Command{
		Use:   "replace <label> <old> [new]",
		Short: "Replace a line (or part of one); an empty new text removes the line",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runCoreReplace,
	}

	core.AddCommand(show, appendCmd, replace)
	RootCmd.AddCommand(core)
}

func runCoreShow(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	var blocks []model.Block
	if len(args) == 1 {
		b, err := e.Core().Block(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		blocks = []model.Block{*b}
	} else if blocks, err = e.Core().Blocks(cmd.Context()); err != nil {
		return err
	}

	if !textOutput() {
		type blockView struct {
			model.Block
			Chars int    `json:"chars"`
			State string `json:"state"`
		}
		views := make([]blockView, len(blocks))
		for i, b := range blocks {
			views[i] = blockView{Block: b, Chars: b.Size(), State: string(e.Core().State(b.Label))}
		}
		return printJSON(cmd.OutOrStdout(), views)
	}
	out := cmd.OutOrStdout()
	for _, b := range blocks {
		fmt.Fprintf(out, "[%s] %d/%d chars\n", b.Label, b.Size(), b.CharLimit)
		for _, l := range b.Lines {
			fmt.Fprintf(out, "  %s\n", l)
		}
	}
	return nil
}

func runCoreAppend(cmd *cobra.Command, args []string) error {
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.Core().Append(cmd.Context(), args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runCoreReplace(cmd *cobra.Command, args []string) error {
	var with string
	if len(args) == 3 {
		with = args[2]
	}
	e, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.Core().Replace(cmd.Context(), args[0], args[1], with)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}
