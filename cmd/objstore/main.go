// Package main is the objstore command-line client. It talks to an object
// store service over REST, gRPC or QUIC through pkg/objstore.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	objerr "github.com/bleepstore/objstore/pkg/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root, a := newRootCmd(stdin)
	defer a.close()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps an error to a stable exit status: 1 for generic failures,
// then one code per error kind so scripts can branch on the cause.
func exitCode(err error) int {
	e, ok := objerr.As(err)
	if !ok {
		return 1
	}
	switch e.Kind {
	case objerr.NotFound:
		return 3
	case objerr.Validation:
		return 4
	case objerr.Authentication:
		return 5
	case objerr.Connection, objerr.Timeout:
		return 6
	case objerr.Unsupported:
		return 7
	default:
		return 1
	}
}
