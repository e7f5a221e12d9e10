// Command cflp solves, validates and reports on facility location instances
// stored as JSON files.
//
//	cflp solve [-seed N] [-config solver.yaml] [-timeout S] [-iterations N] [-v] instance.json solution.json
//	cflp validate instance.json solution.json
//	cflp cost instance.json solution.json
//	cflp report instance.json solution.json
//	cflp precheck instance.json
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"facloc/internal/cflp"
	"facloc/internal/integrations/jsonfile"
	"facloc/internal/opt"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

const usage = `usage: cflp <command> [flags] args
commands:
  solve     instance.json solution.json   run the search and write the assignment
  validate  instance.json solution.json   check feasibility
  cost      instance.json solution.json   print the objective value
  report    instance.json solution.json   per-facility utilization
  precheck  instance.json                 capacity pre-check
`

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	var err error
	switch args[0] {
	case "solve":
		err = solveCmd(ctx, args[1:], stdout, stderr)
	case "validate":
		err = validateCmd(args[1:], stdout)
	case "cost":
		err = costCmd(args[1:], stdout)
	case "report":
		err = reportCmd(args[1:], stdout)
	case "precheck":
		err = precheckCmd(args[1:], stdout)
	case "-h", "help", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return 2
	}
	var uerr usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &uerr):
		fmt.Fprintln(stderr, err)
		return 2
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func solveCmd(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("solve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	seed := fs.Int64("seed", 0, "random seed (0 picks one from the clock)")
	cfgPath := fs.String("config", os.Getenv("SOLVER_CONFIG"), "solver config YAML")
	timeout := fs.Float64("timeout", 0, "override the instance timeout in seconds")
	iterations := fs.Int("iterations", 0, "stop after N iterations")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() != 2 {
		return usageError("solve needs instance.json and solution.json")
	}

	log := newLogger(stderr, *verbose)
	defer func() { _ = log.Sync() }()

	var err error
	cfg := opt.DefaultConfig()
	if *cfgPath != "" {
		if cfg, err = opt.LoadConfig(*cfgPath); err != nil {
			return err
		}
	}
	if *timeout > 0 {
		cfg.TimeLimitSec = *timeout
	}
	if *iterations > 0 {
		cfg.MaxIterations = *iterations
	}
	in, err := jsonfile.ReadInstance(fs.Arg(0))
	if err != nil {
		return err
	}
	solver, err := opt.New(cfg, *seed)
	if err != nil {
		return err
	}
	solver.Log = log
	res, err := solver.Solve(ctx, in)
	if err != nil {
		return err
	}
	if err := jsonfile.WriteSolution(fs.Arg(1), res.Solution); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "cost %.6f  iterations %d  improvements %d  seed %d  stopped by %s\n",
		res.Cost, res.Metrics.Iterations, res.Metrics.Improvements, res.Metrics.Seed, res.Metrics.StoppedBy)
	return nil
}

func load(args []string, cmd string) (*cflp.Instance, cflp.Solution, error) {
	if len(args) != 2 {
		return nil, nil, usageError(cmd + " needs instance.json and solution.json")
	}
	in, err := jsonfile.ReadInstance(args[0])
	if err != nil {
		return nil, nil, err
	}
	sol, err := jsonfile.ReadSolution(args[1])
	if err != nil {
		return nil, nil, err
	}
	return in, sol, nil
}

func validateCmd(args []string, stdout io.Writer) error {
	in, sol, err := load(args, "validate")
	if err != nil {
		return err
	}
	if err := cflp.Check(in, sol); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "feasible")
	return nil
}

func costCmd(args []string, stdout io.Writer) error {
	in, sol, err := load(args, "cost")
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%.6f\n", cflp.Cost(in, sol))
	return nil
}

func reportCmd(args []string, stdout io.Writer) error {
	in, sol, err := load(args, "report")
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "facility\tcapacity\tload\tused %\tcustomers\topening\topen\t")
	open := 0
	for _, l := range cflp.Utilization(in, sol) {
		pct := 0.0
		if l.Capacity > 0 {
			pct = 100 * l.Load / l.Capacity
		}
		if l.Open {
			open++
		}
		fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%.1f\t%d\t%.2f\t%t\t\n", l.Facility, l.Capacity, l.Load, pct, l.Customers, l.OpeningCost, l.Open)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	feasible := "feasible"
	if err := cflp.Check(in, sol); err != nil {
		feasible = err.Error()
	}
	fmt.Fprintf(stdout, "open %d/%d  cost %.6f  %s\n", open, in.NumFacilities(), cflp.Cost(in, sol), feasible)
	return nil
}

func precheckCmd(args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return usageError("precheck needs instance.json")
	}
	in, err := jsonfile.ReadInstance(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "demand %.6f  capacity %.6f\n", in.TotalDemand(), in.TotalCapacity())
	if cflp.IsInfeasible(in) {
		return cflp.ErrInfeasibleInstance
	}
	fmt.Fprintln(stdout, "ok")
	return nil
}

func newLogger(w io.Writer, verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), level)
	return zap.New(core)
}
