// Command annbench benchmarks AsterixDB's approximate vector search against
// its exact search on ann-benchmarks datasets.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	bencherrors "github.com/23skdu/annbench/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if args == nil {
		args = []string{}
	}
	app := newApp(stdout, stderr)
	root := app.rootCommand()
	root.SetArgs(args)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return bencherrors.ExitOK
	}

	if isUsage(err) {
		if cmd == nil {
			cmd = root
		}
		_, _ = fmt.Fprintf(stdout, "Error: %v\n\n", err)
		_, _ = io.WriteString(stdout, cmd.UsageString())
		return bencherrors.ExitUsage
	}
	_, _ = fmt.Fprintf(stdout, "Error: %v\n", err)
	var se *bencherrors.StructuredError
	if errors.As(err, &se) && len(se.Context) > 0 {
		for _, k := range slices.Sorted(maps.Keys(se.Context)) {
			_, _ = fmt.Fprintf(stdout, "  %s: %v\n", k, se.Context[k])
		}
	}
	return bencherrors.ExitCode(err)
}

// isUsage reports whether err came from the command line itself. Flag
// errors are typed by the flag error func; cobra reports unknown commands
// untyped.
func isUsage(err error) bool {
	switch bencherrors.TypeOf(err) {
	case bencherrors.ErrorTypeUsage:
		return true
	case "":
		return strings.HasPrefix(err.Error(), "unknown command ")
	default:
		return false
	}
}
