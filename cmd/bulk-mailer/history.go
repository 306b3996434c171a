package main

import (
	"context"
	"fmt"
	"time"
)

func runHistory(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "history")
	limit := fs.Int("n", 20, "number of entries to print (0 for all)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	log, release, err := a.openSendLog(ctx)
	if err != nil {
		return err
	}
	defer release()

	entries, err := log.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.SentAt.IsZero() {
			fmt.Fprintln(a.stdout, e.Recipient)
			continue
		}
		fmt.Fprintf(a.stdout, "%s  %s  %s\n", e.SentAt.Local().Format(time.DateTime), e.RunID, e.Recipient)
	}
	return nil
}
