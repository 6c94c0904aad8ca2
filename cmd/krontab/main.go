// krontab previews cron-like schedules and runs the scheduling daemon.
//
//	krontab next "0 30 9 * *" --count 3 --tz Europe/Berlin
//	krontab check "0 0 12 f/2 *"
//	krontab run --jobs /etc/krontab/jobs.yaml
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	_ "time/tzdata"

	"github.com/spf13/pflag"

	"krontab/internal/app"
	"krontab/pkg/krontab"
)

// usageError makes main exit with status 2.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "krontab: %v\n", err)
		var ue usageError
		if errors.As(err, &ue) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return usagef("missing command")
	}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "next":
		return runNext(rest, stdout, stderr)
	case "check":
		return runCheck(rest, stdout, stderr)
	case "run":
		return runDaemon(rest, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return usagef("unknown command %q", cmd)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage:
  krontab next <expr> [--from RFC3339] [--count N] [--tz Zone]
  krontab check <expr>
  krontab run [--jobs path] [--env-file path]

An expression has five fields: second minute hour day-of-month month.
Quote it, or pass the fields as separate arguments.
`)
}

// parseFlags parses args and returns the expression formed by the positional
// arguments, or an error when an expression is required but missing.
func parseFlags(fs *pflag.FlagSet, args []string, stderr io.Writer) (string, error) {
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return "", err
		}
		return "", usagef("%s: %v", fs.Name(), err)
	}
	if fs.NArg() == 0 {
		return "", usagef("%s: missing expression", fs.Name())
	}
	return strings.Join(fs.Args(), " "), nil
}

func runNext(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("next", pflag.ContinueOnError)
	from := fs.String("from", "", "first instant to consider, inclusive, RFC 3339 (default now)")
	count := fs.IntP("count", "n", 5, "number of occurrences")
	tz := fs.String("tz", "", "IANA time zone (default local)")

	expr, err := parseFlags(fs, args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *count < 1 {
		return usagef("next: --count must be positive")
	}

	loc := time.Local
	if *tz != "" {
		if loc, err = time.LoadLocation(*tz); err != nil {
			return usagef("next: --tz: %v", err)
		}
	}
	start := time.Now()
	if *from != "" {
		if start, err = time.Parse(time.RFC3339, *from); err != nil {
			return usagef("next: --from: %v", err)
		}
	}

	sched, err := krontab.Parse(expr)
	if err != nil {
		return err
	}
	next := sched.UpcomingFrom(start.In(loc), *count)
	if len(next) == 0 {
		return fmt.Errorf("%q: %w", expr, krontab.ErrNoOccurrence)
	}
	for _, t := range next {
		fmt.Fprintln(stdout, t.Format(time.RFC3339))
	}
	return nil
}

func runCheck(args []string, stdout, stderr io.Writer) error {
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	expr, err := parseFlags(fs, args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	sched, err := krontab.Parse(expr)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "expression\t%s\n", sched)
	for _, f := range krontab.Fields {
		fmt.Fprintf(tw, "%s\t%s\n", f, sched.Field(f))
	}
	if c := sched.Candidates(); c != nil {
		fmt.Fprintf(tw, "candidates\t%d\n", len(c))
	}
	fmt.Fprintf(tw, "unconstrained\t%t\n", sched.Unconstrained())
	if err := tw.Flush(); err != nil {
		return err
	}
	if sched.Next(time.Now()).IsZero() {
		return fmt.Errorf("%q: %w", expr, krontab.ErrNoOccurrence)
	}
	return nil
}

func runDaemon(args []string, stderr io.Writer) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts app.Options
	fs.StringVar(&opts.JobsFile, "jobs", "", "jobs file (default $JOBS_FILE or jobs.yaml)")
	fs.StringVar(&opts.EnvFile, "env-file", ".env", "optional dotenv file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usagef("run: %v", err)
	}
	if fs.NArg() > 0 {
		return usagef("run: unexpected argument %q", fs.Arg(0))
	}

	a, err := app.New(opts)
	if err != nil {
		return err
	}
	return a.Run()
}
