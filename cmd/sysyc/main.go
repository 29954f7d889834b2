package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/gofrs/flock"

	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/cli"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/config"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/diag"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/irgen"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/lexer"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/mips"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/optimizer"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/parser"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/sema"
	"github.com/Mount-Qomolangma-feng/Compiler-SysY-MIPS/pkg/util"
)

func main() {
	cfg := config.NewConfig()

	var (
		input string
		noOpt bool
		debug bool
	)
	fs := cli.NewFlagSet("sysyc", "[flags]")
	fs.String(&input, "i", config.InputFile, "input source file")
	fs.Bool(&noOpt, "no-opt", false, "skip the IR optimizer")
	fs.Bool(&debug, "debug", false, "verbose stage logging")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, cli.Colorize(err.Error(), cli.Red))
		os.Exit(2)
	}
	cfg.Input = input
	if noOpt {
		cfg.SetFeature(config.FeatOptimize, false)
	}
	if debug {
		cfg.SetFeature(config.FeatDebug, true)
	}
	util.SetDebug(cfg.IsFeatureEnabled(config.FeatDebug))
	log := util.Stage("driver")

	source, err := os.ReadFile(cfg.Input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sysyc: cannot open %s\n", cfg.Input)
		os.Exit(1)
	}

	// Serialize writers of the shared output set; concurrent runs in one
	// directory would interleave their files.
	lock := flock.New(config.LockFile)
	if err := lock.Lock(); err == nil {
		defer lock.Unlock()
	}

	errs := &diag.List{}

	toks := lexer.NewLexer([]rune(string(source)), errs).Scan()
	log.Debug().Int("tokens", len(toks)).Msg("lexing done")

	p := parser.NewParser(toks, errs)
	root := p.Parse()
	var tree strings.Builder
	p.DumpTree(&tree)
	writeOutput(config.TreeFile, tree.String())
	log.Debug().Msg("parsing done")

	analyzer := sema.NewAnalyzer(errs)
	analyzer.Analyze(root)
	table := analyzer.Table()
	writeOutput(config.TableFile, table.Format())
	log.Debug().Msg("semantic analysis done")

	if !errs.Empty() {
		if err := errs.WriteFile(config.ErrorFile); err != nil {
			fmt.Fprintln(os.Stderr, cli.Colorize(err.Error(), cli.Red))
		}
		log.Info().Int("count", errs.Len()).Msg("diagnostics written")
	} else {
		writeOutput(config.SymbolFile, table.CompactDump())
	}

	// Later stages run best-effort even with diagnostics; their outputs are
	// not authoritative in that case.
	gen := irgen.NewGenerator(table)
	mod := gen.Generate(root)
	writeOutput(config.IRFile, mod.Dump())
	if cfg.IsFeatureEnabled(config.FeatDumpLayout) {
		writeOutput(config.StackLayoutFile, mod.LayoutDump(table))
	}
	log.Debug().Int("instrs", len(mod.Instrs)).Msg("IR generation done")

	if cfg.IsFeatureEnabled(config.FeatOptimize) {
		before := len(mod.Instrs)
		mod.Instrs = optimizer.NewOptimizer(mod.Instrs).Run()
		writeOutput(config.IRAfterOptFile, mod.Dump())
		log.Debug().Int("before", before).Int("after", len(mod.Instrs)).Msg("optimization done")
	}

	asm := mips.NewGenerator(mod, table).Generate()
	writeOutput(config.MipsFile, asm)
	log.Debug().Msg("MIPS generation done")
}

func writeOutput(path, content string) {
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		fmt.Fprintln(os.Stderr, cli.Colorize(fmt.Sprintf("sysyc: write %s: %v", path, err), cli.Red))
	}
}
