package main

import (
	"context"
	"fmt"

	"github.com/shineum/bulk-mailer-lite/internal/address"
)

func runValidate(_ context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "validate")
	recipientsFile := fs.String("recipients", "-", `recipient list, one address per line ("-" reads stdin)`)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	raw, err := readInput(a.stdin, *recipientsFile)
	if err != nil {
		return fmt.Errorf("failed to read recipients: %w", err)
	}

	result := address.Parse(string(raw))
	for _, addr := range result.Accepted {
		fmt.Fprintln(a.stdout, addr)
	}
	for _, r := range result.Rejected {
		fmt.Fprintf(a.stderr, "line %d: %q is not a valid address\n", r.Line, r.Value)
	}
	fmt.Fprintf(a.stderr, "%d valid, %d rejected\n", len(result.Accepted), len(result.Rejected))
	return nil
}
