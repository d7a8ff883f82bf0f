package main

import (
	"context"
	"encoding/json"
	"os"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mirc/compiler"
	"github.com/slowlang/mirc/compiler/mirtext"
	"github.com/slowlang/mirc/compiler/passes"
)

func main() {
	pipelineFlags := []*cli.Flag{
		cli.NewFlag("pipeline,p", "standard", "pass pipeline: basic, standard, aggressive"),
		cli.NewFlag("no-opt", false, "use the basic pipeline"),
		cli.NewFlag("no-validate", false, "skip input and output validation"),
		cli.NewFlag("max-iter", 0, "fixpoint iterations limit"),
	}

	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "compile mir text files to casm",
		Action:      compileAct,
		Args:        cli.Args{},
		Flags: append([]*cli.Flag{
			cli.NewFlag("target", "casm", "code generation target"),
			cli.NewFlag("format,f", "json", "output format: json, listing"),
			cli.NewFlag("output,o", "", "output file, stdout if empty"),
		}, pipelineFlags...),
	}

	dumpCmd := &cli.Command{
		Name:        "dump",
		Description: "print mir after the pass pipeline",
		Action:      dumpAct,
		Args:        cli.Args{},
		Flags: append([]*cli.Flag{
			cli.NewFlag("raw", false, "print parsed mir without running passes"),
		}, pipelineFlags...),
	}

	app := &cli.Command{
		Name:        "mirc",
		Description: "mirc compiles mir modules to casm programs",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			compileCmd,
			dumpCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func config(c *cli.Command) (cfg compiler.Config, err error) {
	cfg = compiler.DefaultConfig()

	cfg.Pipeline, err = passes.ParsePipeline(c.String("pipeline"))
	if err != nil {
		return cfg, err
	}

	cfg.Optimize = !c.Bool("no-opt")
	cfg.MaxIterations = c.Int("max-iter")

	if c.Bool("no-validate") {
		cfg.ValidateInput = false
		cfg.ValidateOutput = false
	}

	return cfg, nil
}

func compileAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg, err := config(c)
	if err != nil {
		return err
	}

	cfg.Target, err = compiler.ParseTarget(c.String("target"))
	if err != nil {
		return err
	}

	format := c.String("format")
	if format != "json" && format != "listing" {
		return errors.New("unknown format: %q", format)
	}

	var out []byte

	for _, a := range c.Args {
		p, err := compiler.CompileFile(ctx, a, cfg)
		if err != nil {
			return errors.Wrap(err, "compile %v", a)
		}

		if format == "listing" {
			out = p.AppendListing(out)
			continue
		}

		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encode %v", a)
		}

		out = append(out, data...)
		out = append(out, '\n')
	}

	return write(c.String("output"), out)
}

func dumpAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	cfg, err := config(c)
	if err != nil {
		return err
	}

	var out []byte

	for _, a := range c.Args {
		m, err := mirtext.ParseFile(ctx, a)
		if err != nil {
			return errors.Wrap(err, "parse %v", a)
		}

		if !c.Bool("raw") {
			err = compiler.Optimize(ctx, m, cfg)
			if err != nil {
				return errors.Wrap(err, "optimize %v", a)
			}
		}

		out, err = mirtext.FormatModule(out, m)
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}
	}

	return write("", out)
}

func write(name string, data []byte) error {
	if name == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	err := os.WriteFile(name, data, 0o644)
	if err != nil {
		return errors.Wrap(err, "write output")
	}

	return nil
}
