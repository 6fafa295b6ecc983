package main

import (
	"context"
	"errors"
	"time"

	"github.com/colliery-io/metis-sub002/internal/config"
	"github.com/colliery-io/metis-sub002/internal/document"
	"github.com/colliery-io/metis-sub002/internal/fsx"
	"github.com/colliery-io/metis-sub002/internal/metiserr"
	"github.com/colliery-io/metis-sub002/internal/query"
	"github.com/colliery-io/metis-sub002/internal/reassign"
	"github.com/colliery-io/metis-sub002/internal/service"

	flag "github.com/spf13/pflag"
)

// allCommands builds the metisctl subcommand table. Each Exec closes over
// fs/cwd rather than a pre-opened Service, because most commands (besides
// init) first need to locate the workspace from the current directory —
// mirroring the teacher's per-invocation config resolution in
// internal/cli/run.go.
func allCommands(fs fsx.FS, cwd string) []*Command {
	return []*Command{
		cmdInit(fs, cwd),
		cmdSync(fs, cwd),
		cmdCreate(fs, cwd),
		cmdShow(fs, cwd),
		cmdList(fs, cwd),
		cmdSearch(fs, cwd),
		cmdTransition(fs, cwd),
		cmdArchive(fs, cwd),
		cmdReassign(fs, cwd),
		cmdParents(fs, cwd),
	}
}

func openService(ctx context.Context, fs fsx.FS, cwd string) (*service.Service, error) {
	return service.Open(ctx, fs, cwd)
}

func cmdInit(fs fsx.FS, cwd string) *Command {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)
	prefix := flags.String("prefix", "METIS", "workspace prefix, 2-6 uppercase letters")
	preset := flags.String("preset", "full", "flight-level preset: full|streamlined|direct")

	return &Command{
		Flags: flags,
		Usage: "init [flags]",
		Short: "Initialise a new .metis/ workspace in the current directory",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			svc, err := service.InitializeWorkspace(ctx, fs, cwd, *prefix, config.Preset(*preset))
			if err != nil {
				return err
			}
			defer svc.Close()

			o.Printf("initialised workspace at %s (prefix=%s preset=%s)\n", svc.WS.Root, *prefix, *preset)

			return nil
		},
	}
}

func cmdSync(fs fsx.FS, cwd string) *Command {
	flags := flag.NewFlagSet("sync", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "sync",
		Short: "Reconcile the filesystem into the SQLite index",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			svc, err := openService(ctx, fs, cwd)
			if err != nil {
				return err
			}
			defer svc.Close()

			stats, err := svc.Sync(ctx, time.Now())
			if err != nil {
				return err
			}

			o.Printf("run=%s imported=%d updated=%d moved=%d deleted=%d up_to_date=%d errors=%d\n",
				stats.RunID, stats.Imported, stats.Updated, stats.Moved, stats.Deleted, stats.UpToDate, len(stats.Errors))

			for _, e := range stats.Errors {
				o.ErrPrintln("  error:", e.Path, e.Err)
			}

			for _, m := range stats.Messages {
				o.Println("  " + m)
			}

			return nil
		},
	}
}

func cmdCreate(fs fsx.FS, cwd string) *Command {
	flags := flag.NewFlagSet("create", flag.ContinueOnError)
	level := flags.StringP("type", "t", "", "document level: vision|strategy|initiative|task|adr")
	parent := flags.String("parent", "", "parent short-code (omit for vision/adr/backlog task)")
	category := flags.String("category", "", "backlog category for a parentless task: bug|feature|tech-debt")

	return &Command{
		Flags: flags,
		Usage: "create <title> [flags]",
		Short: "Create a new document (spec.md §6.2 create_document)",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errors.New("title is required")
			}

			svc, err := openService(ctx, fs, cwd)
			if err != nil {
				return err
			}
			defer svc.Close()

			shortCode, filePath, err := svc.CreateDocument(ctx, service.CreateOptions{
				Level:           document.Level(*level),
				Title:           args[0],
				Parent:          *parent,
				BacklogCategory: *category,
			}, time.Now())
			if err != nil {
				return err
			}

			o.Printf("%s\t%s\n", shortCode, filePath)

			return nil
		},
	}
}

func cmdShow(fs fsx.FS, cwd string) *Command {
	flags := flag.NewFlagSet("show", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "show <short-code>",
		Short: "Print a document's front matter and body (spec.md §6.2 read_document)",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errors.New("short-code is required")
			}

			svc, err := openService(ctx, fs, cwd)
			if err != nil {
				return err
			}
			defer svc.Close()

			resolved, err := svc.ResolveShortCode(ctx, args[0])
			if err != nil {
				if errors.Is(err, metiserr.ErrAmbiguous) {
					return err
				}
				resolved = args[0]
			}

			doc, err := svc.ReadDocument(ctx, resolved)
			if err != nil {
				o.ErrPrintln("hint: run 'metisctl list' to see known short-codes")
				return err
			}

			raw, err := doc.Render()
			if err != nil {
				return err
			}

			o.Printf("%s", raw)

			return nil
		},
	}
}

func cmdList(fs fsx.FS, cwd string) *Command {
	flags := flag.NewFlagSet("list", flag.ContinueOnError)
	docType := flags.StringP("type", "t", "", "filter by document level")
	phase := flags.String("phase", "", "filter by phase")
	archived := flags.Bool("archived", false, "include only archived documents")
	all := flags.Bool("all", false, "include archived and non-archived documents")

	return &Command{
		Flags: flags,
		Usage: "list [flags]",
		Short: "List documents (spec.md §6.2 list_documents)",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			svc, err := openService(ctx, fs, cwd)
			if err != nil {
				return err
			}
			defer svc.Close()

			filter := query.Filter{DocumentType: *docType, Phase: *phase}

			switch {
			case *all:
				// leave Archived nil: both.
			case *archived:
				v := true
				filter.Archived = &v
			default:
				v := false
				filter.Archived = &v
			}

			rows, err := svc.ListDocuments(ctx, filter)
			if err != nil {
				return err
			}

			for _, r := range rows {
				o.Printf("%s\t%-10s\t%-14s\t%s\n", r.ShortCode, r.DocumentType, r.Phase, r.Title)
			}

			return nil
		},
	}
}

func cmdSearch(fs fsx.FS, cwd string) *Command {
	flags := flag.NewFlagSet("search", flag.ContinueOnError)
	limit := flags.Int("limit", 20, "maximum results")

	return &Command{
		Flags: flags,
		Usage: "search <query> [flags]",
		Short: "Full-text search over title/body/short-code (spec.md §6.2 search_documents)",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errors.New("query is required")
			}

			svc, err := openService(ctx, fs, cwd)
			if err != nil {
				return err
			}
			defer svc.Close()

			results, err := svc.SearchDocuments(ctx, args[0], *limit)
			if err != nil {
				return err
			}

			for _, r := range results {
				o.Printf("%s\t%s\n", r.Row.ShortCode, r.Snippet)
			}

			return nil
		},
	}
}

func cmdTransition(fs fsx.FS, cwd string) *Command {
	flags := flag.NewFlagSet("transition", flag.ContinueOnError)
	target := flags.String("to", "", "target phase (omit to advance to the next phase)")
	force := flags.Bool("force", false, "bypass edge and exit-criteria validation")

	return &Command{
		Flags: flags,
		Usage: "transition <short-code> [flags]",
		Short: "Advance or set a document's phase (spec.md §6.2 transition_phase)",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errors.New("short-code is required")
			}

			svc, err := openService(ctx, fs, cwd)
			if err != nil {
				return err
			}
			defer svc.Close()

			newPhase, err := svc.TransitionPhase(ctx, args[0], *target, *force, time.Now())
			if err != nil {
				return err
			}

			o.Printf("%s -> %s\n", args[0], newPhase)

			return nil
		},
	}
}

func cmdArchive(fs fsx.FS, cwd string) *Command {
	flags := flag.NewFlagSet("archive", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "archive <short-code>",
		Short: "Archive a document's subtree (spec.md §6.2 archive_document)",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errors.New("short-code is required")
			}

			svc, err := openService(ctx, fs, cwd)
			if err != nil {
				return err
			}
			defer svc.Close()

			paths, err := svc.ArchiveDocument(ctx, args[0], time.Now())
			if err != nil {
				return err
			}

			for _, p := range paths {
				o.Println(p)
			}

			return nil
		},
	}
}

func cmdReassign(fs fsx.FS, cwd string) *Command {
	flags := flag.NewFlagSet("reassign", flag.ContinueOnError)
	parent := flags.String("parent", "", "new parent initiative short-code (omit for backlog)")
	category := flags.String("category", "", "backlog category when moving to the backlog")

	return &Command{
		Flags: flags,
		Usage: "reassign <short-code> [flags]",
		Short: "Move a task between initiatives or into the backlog (spec.md §6.2 reassign_parent)",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errors.New("short-code is required")
			}

			svc, err := openService(ctx, fs, cwd)
			if err != nil {
				return err
			}
			defer svc.Close()

			newPath, err := svc.ReassignParent(ctx, args[0], reassign.Options{
				NewParentShortCode: *parent,
				BacklogCategory:    *category,
			}, time.Now())
			if err != nil {
				return err
			}

			o.Println(newPath)

			return nil
		},
	}
}

func cmdParents(fs fsx.FS, cwd string) *Command {
	flags := flag.NewFlagSet("parents", flag.ContinueOnError)

	return &Command{
		Flags: flags,
		Usage: "parents <type>",
		Short: "List valid parents for a document type under the current preset (spec.md §6.2 available_parents)",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if len(args) == 0 {
				return errors.New("type is required")
			}

			svc, err := openService(ctx, fs, cwd)
			if err != nil {
				return err
			}
			defer svc.Close()

			rows, err := svc.AvailableParents(ctx, document.Level(args[0]))
			if err != nil {
				return err
			}

			for _, r := range rows {
				o.Printf("%s\t%s\n", r.ShortCode, r.Title)
			}

			return nil
		},
	}
}
