// ilower compiles Go source files to C, or to a textual IL listing.
//
// Usage:
//
//	ilower [-o out.c] [--format c|il] file1.go [file2.go ...]
//	ilower [-o out.c] dir
package main

import (
	"bytes"
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/NERVsystems/infernode/tools/ilower/compiler"
	"github.com/NERVsystems/infernode/tools/ilower/config"
)

func main() {
	if err := command().Execute(); err != nil {
		os.Exit(1)
	}
}

type flags struct {
	output     string
	configFile string
	format     string
	assembly   string
	library    bool
	entry      string
	half       string
	debug      bool
}

func command() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "ilower [flags] file.go... | dir",
		Short:         "ilower compiles a Go package to C source or an IL listing",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(cmd)
			if err != nil {
				return err
			}
			ctx := logContext(cmd.Context(), cfg.Debug)
			if err := run(ctx, cfg, f.output, args); err != nil {
				log.Error(ctx, err, log.KV{K: "inputs", V: args})
				return err
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&f.output, "output", "o", "-", "file to write, or - for stdout")
	fs.StringVarP(&f.configFile, "config", "c", "", "YAML configuration file")
	fs.StringVar(&f.format, "format", config.FormatC, "output format: c or il")
	fs.StringVar(&f.assembly, "assembly", "", "assembly name (default: package name)")
	fs.BoolVar(&f.library, "lib", false, "emit a library without a C main function")
	fs.StringVar(&f.entry, "entry", compiler.EntryName, "entry point symbol")
	fs.StringVar(&f.half, "half", "convert", "f16 constants: convert, native or unsupported")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logs")
	return cmd
}

// config loads the configuration file, if any, and applies the flags that
// were set explicitly.
func (f *flags) config(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if f.configFile != "" {
		var err error
		if cfg, err = config.Load(f.configFile); err != nil {
			return nil, err
		}
	}
	fs := cmd.Flags()
	if fs.Changed("format") {
		cfg.Format = f.format
	}
	if fs.Changed("assembly") {
		cfg.Assembly = f.assembly
	}
	if fs.Changed("lib") {
		cfg.Executable = !f.library
	}
	if fs.Changed("entry") {
		cfg.Entry = f.entry
	}
	if fs.Changed("half") {
		cfg.Half = f.half
	}
	if fs.Changed("debug") {
		cfg.Debug = f.debug
	}
	return cfg, cfg.Validate()
}

func logContext(ctx context.Context, debug bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx = log.Context(ctx, log.WithFormat(format), log.WithOutput(os.Stderr))
	if debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	return ctx
}

func run(ctx context.Context, cfg *config.Config, output string, args []string) error {
	unit, err := compile(args)
	if err != nil {
		return err
	}
	log.Debug(ctx,
		log.KV{K: "package", V: unit.Program.Name},
		log.KV{K: "functions", V: len(unit.Program.Funcs)},
		log.KV{K: "statics", V: len(unit.Program.Statics)})

	var buf bytes.Buffer
	if err := compiler.Emit(unit, cfg, &buf); err != nil {
		return err
	}
	if output == "-" {
		_, err = os.Stdout.Write(buf.Bytes())
		return errors.Wrap(err, "writing output")
	}
	if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", output)
	}
	log.Info(ctx, log.KV{K: "output", V: output}, log.KV{K: "format", V: cfg.Format}, log.KV{K: "bytes", V: buf.Len()})
	return nil
}

// compile builds a package from a directory or from a list of files.
func compile(args []string) (*compiler.Unit, error) {
	c := compiler.New()
	if len(args) == 1 {
		if st, err := os.Stat(args[0]); err == nil && st.IsDir() {
			return c.CompileDir(args[0])
		}
	}
	srcs := make([][]byte, len(args))
	for i, path := range args {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		srcs[i] = src
	}
	return c.CompileFiles(args, srcs)
}
