package main

import (
	"context"
	"fmt"
	"strings"
)

const templatesUsage = `Usage: bulk-mailer templates <list|show|save|import|delete> [flags]

  list                          print stored template names
  show <name>                   print a template body
  save <name> [-file f.html]    store an HTML body (stdin when -file is omitted)
  import <name> [-file f.md]    convert Markdown to HTML and store it
  delete <name>                 remove a template
`

func runTemplates(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(a.stderr, templatesUsage)
		return errUsage
	}

	lib, release, err := a.openLibrary(ctx)
	if err != nil {
		return err
	}
	defer release()

	sub, rest := args[0], args[1:]
	if sub == "list" {
		names, err := lib.List(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(a.stdout, name)
		}
		return nil
	}

	if len(rest) == 0 || strings.HasPrefix(rest[0], "-") {
		fmt.Fprint(a.stderr, templatesUsage)
		return fmt.Errorf("%w: template name is required", errUsage)
	}
	name, rest := rest[0], rest[1:]

	switch sub {
	case "show":
		body, err := lib.Get(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, body)
		return nil

	case "save", "import":
		fs := newFlagSet(a, "templates "+sub)
		file := fs.String("file", "-", `input file ("-" reads stdin)`)
		if err := parseFlags(fs, rest); err != nil {
			return err
		}
		data, err := readInput(a.stdin, *file)
		if err != nil {
			return fmt.Errorf("failed to read template: %w", err)
		}
		if sub == "save" {
			_, err = lib.Put(ctx, name, string(data))
		} else {
			_, err = lib.Import(ctx, name, data)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "saved template %q\n", name)
		return nil

	case "delete":
		if err := lib.Remove(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "deleted template %q\n", name)
		return nil

	default:
		fmt.Fprint(a.stderr, templatesUsage)
		return fmt.Errorf("%w: unknown templates command %q", errUsage, sub)
	}
}
