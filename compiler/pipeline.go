package compiler

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/NERVsystems/infernode/tools/ilower/asm"
	"github.com/NERVsystems/infernode/tools/ilower/cexport"
	"github.com/NERVsystems/infernode/tools/ilower/config"
	"github.com/NERVsystems/infernode/tools/ilower/ildump"
	"github.com/NERVsystems/infernode/tools/ilower/lower"
)

// Lower runs the lowering engine over u, producing an assembly named name
// (the program name when empty).
func Lower(u *Unit, name string, opts lower.Options) (*asm.Assembly, error) {
	if name == "" {
		name = u.Program.Name
	}
	a := asm.New(name)
	if err := lower.New(a, u.Env, opts).Program(u.Program); err != nil {
		return nil, errors.Wrapf(err, "lowering %s", name)
	}
	return a, nil
}

// NewExporter returns the exporter for the configured output format.
func NewExporter(cfg *config.Config) asm.Exporter {
	if cfg.Format == config.FormatIL {
		return ildump.New()
	}
	return cexport.New(cexport.Options{Executable: cfg.Executable, Entry: cfg.Entry})
}

// Emit lowers u and writes it to w in the configured format.
func Emit(u *Unit, cfg *config.Config, w io.Writer) error {
	if cfg.Executable && u.Program.Entry == "" && cfg.Entry == EntryName {
		return errors.Newf("package %s has no main function", u.Program.Name)
	}
	a, err := Lower(u, cfg.Assembly, cfg.LowerOptions())
	if err != nil {
		return err
	}
	return asm.Export(a, NewExporter(cfg), w)
}
