// irdump prints the intermediate forms of a Go package: its SSA, the
// frontend IR handed to the lowering engine and the lowered IL listing.
//
// Usage:
//
//	irdump [--ssa] [--mir] [--il] file1.go [file2.go ...]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"goa.design/clue/log"
	"golang.org/x/tools/go/ssa"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/compiler"
	"github.com/NERVsystems/infernode/tools/ilower/config"
	"github.com/NERVsystems/infernode/tools/ilower/ildump"
)

func main() {
	var showSSA, showMIR, showIL bool
	cmd := &cobra.Command{
		Use:           "irdump [flags] file.go...",
		Short:         "irdump prints the SSA, frontend IR and IL listing of a Go package",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := log.Context(context.Background(), log.WithFormat(log.FormatTerminal), log.WithOutput(os.Stderr))
			if !showSSA && !showMIR && !showIL {
				showSSA, showMIR, showIL = true, true, true
			}
			err := dump(cmd.OutOrStdout(), args, showSSA, showMIR, showIL)
			if err != nil {
				log.Error(ctx, err)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&showSSA, "ssa", false, "print the SSA form")
	cmd.Flags().BoolVar(&showMIR, "mir", false, "print the frontend IR")
	cmd.Flags().BoolVar(&showIL, "il", false, "print the lowered IL listing")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func dump(w io.Writer, files []string, showSSA, showMIR, showIL bool) error {
	srcs := make([][]byte, len(files))
	for i, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "reading %s", path)
		}
		srcs[i] = src
	}
	unit, err := compiler.New().CompileFiles(files, srcs)
	if err != nil {
		return err
	}

	if showSSA {
		fmt.Fprintf(w, "=== SSA %s ===\n", unit.SSA.Pkg.Path())
		for _, fn := range ssaFunctions(unit.SSA) {
			if _, err := fn.WriteTo(w); err != nil {
				return err
			}
		}
	}
	if showMIR {
		fmt.Fprintf(w, "=== MIR %s ===\n", unit.Program.Name)
		for _, fn := range unit.Program.Funcs {
			if _, err := fn.WriteTo(w); err != nil {
				return err
			}
			fmt.Fprintln(w)
		}
	}
	if showIL {
		fmt.Fprintf(w, "=== IL %s ===\n", unit.Program.Name)
		cfg := config.Default()
		a, err := compiler.Lower(unit, "", cfg.LowerOptions())
		if err != nil {
			return err
		}
		if err := asm.Export(a, ildump.New(), w); err != nil {
			return err
		}
	}
	return nil
}

// ssaFunctions lists the package-level functions of pkg and the anonymous
// functions they contain, by name.
func ssaFunctions(pkg *ssa.Package) []*ssa.Function {
	var fns []*ssa.Function
	var walk func(fn *ssa.Function)
	walk = func(fn *ssa.Function) {
		fns = append(fns, fn)
		for _, anon := range fn.AnonFuncs {
			walk(anon)
		}
	}
	for _, m := range pkg.Members {
		if fn, ok := m.(*ssa.Function); ok && fn.Blocks != nil {
			walk(fn)
		}
	}
	slices.SortFunc(fns, func(a, b *ssa.Function) int { return strings.Compare(a.String(), b.String()) })
	return fns
}
