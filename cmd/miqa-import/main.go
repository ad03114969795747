// Command miqa-import converts legacy check_new_sessions tables to MIQA
// import files and tracks which sessions have been queued for QC.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

// cli runs the command tree and maps the outcome to an exit code: 0 on
// success, 2 on usage errors, 1 otherwise.
func cli(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := newRootCmd(stdin, stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var uerr usageError
	if errors.As(err, &uerr) {
		_, _ = fmt.Fprintf(stderr, "miqa-import: %v\n", err)
		_, _ = fmt.Fprintln(stderr, "Run 'miqa-import --help' for usage.")
		return 2
	}
	if !errors.Is(err, errReported) {
		_, _ = fmt.Fprintf(stderr, "miqa-import: %v\n", err)
	}
	return 1
}

// usageError marks bad invocations.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// errReported signals a failure whose details were already printed.
var errReported = errors.New("failed")
