package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/strata/core"
	"github.com/petal-labs/strata/model"
)

// NewTreeCmd creates the "tree" subcommand.
func NewTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree <file>",
		Short: "Print the component hierarchy of a model with time levels",
		Args:  cobra.ExactArgs(1),
		RunE:  runTree,
	}

	cmd.Flags().String("root", "", "Only print the subtree of this component")
	cmd.Flags().Bool("plan", false, "Print the execution plan of each aggregate's first pass")

	return cmd
}

func runTree(cmd *cobra.Command, args []string) error {
	md, err := loadModel(cmd, args[0])
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, Config{}, nil)
	if err != nil {
		return err
	}

	rootName, _ := cmd.Flags().GetString("root")
	ctrl, _, err := buildModel(md, rootName, logger)
	if err != nil {
		return err
	}
	withPlan, _ := cmd.Flags().GetBool("plan")

	roots := ctrl.Roots()
	if rootName != "" {
		roots = []model.Component{ctrl.Component(rootName)}
	}

	out := cmd.OutOrStdout()
	if md.ID != "" {
		fmt.Fprintf(out, "%s\n", md.ID)
	}
	for _, root := range roots {
		writeTree(out, root, 0, withPlan)
	}
	return nil
}

func writeTree(w io.Writer, comp model.Component, depth int, withPlan bool) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%s%s [%s, level %d]", indent, comp.Name(), comp.Kind(), comp.TimeLevel())

	switch c := comp.(type) {
	case *model.IterableComponent:
		fmt.Fprintf(w, " %s", c.Describe())
	case *model.DataRefComponent:
		fmt.Fprintf(w, " -> %s", c.Target())
	}
	if id := comp.UserID(); id != "" {
		fmt.Fprintf(w, " id=%s", id)
	}
	if inputs := comp.Inputs(); len(inputs) > 0 {
		fmt.Fprintf(w, " inputs=%s", formatInputs(inputs))
	}
	fmt.Fprintln(w)

	ic, ok := comp.(*model.IterableComponent)
	if !ok || ic.Process() != nil {
		return
	}
	if withPlan {
		for _, lp := range ic.Plan(0) {
			fmt.Fprintf(w, "%s  | level %d: %s\n", indent, lp.Level, formatPlan(lp))
		}
	}
	for _, child := range ic.Children() {
		writeTree(w, child, depth+1, withPlan)
	}
}

// formatInputs renders input-sets as [[A B:1] [C]].
func formatInputs(sets [][]core.InputRef) string {
	parts := make([]string, len(sets))
	for i, set := range sets {
		refs := make([]string, len(set))
		for j, ref := range set {
			refs[j] = ref.String()
		}
		parts[i] = "[" + strings.Join(refs, " ") + "]"
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatPlan(lp model.LevelPlan) string {
	if len(lp.Pipelines) == 0 {
		return "idle"
	}
	pipes := make([]string, len(lp.Pipelines))
	for i, p := range lp.Pipelines {
		pipes[i] = strings.Join(p, " -> ")
	}
	return strings.Join(pipes, "; ")
}
