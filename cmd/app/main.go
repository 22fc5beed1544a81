package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/markpad/internal"
	"github.com/starford/markpad/internal/models"
	pkgconfig "github.com/starford/markpad/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadIfExists(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

// withStack opens the shared components for a one-shot command. Logs go to
// stderr so stdout stays clean for piping.
func withStack(cmd *cli.Command, fn func(*internal.Stack) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	stack, err := internal.Open(internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	defer stack.Close()
	return fn(stack)
}

func readInput(name string) (string, error) {
	if name == "" || name == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(name)
	return string(data), err
}

func share(ctx context.Context, cmd *cli.Command) error {
	content, err := readInput(cmd.Args().First())
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return withStack(cmd, func(s *internal.Stack) error {
		link, err := s.Service.BuildShareLink(ctx, content)
		if err != nil {
			return err
		}
		fmt.Println(link)
		return nil
	})
}

func open(ctx context.Context, cmd *cli.Command) error {
	rawURL := cmd.Args().First()
	if rawURL == "" {
		return fmt.Errorf("usage: markpad open URL")
	}
	return withStack(cmd, func(s *internal.Stack) error {
		content, err := s.Service.OpenShareLink(ctx, rawURL)
		if err != nil {
			return err
		}
		if cmd.Bool("save") {
			meta, err := s.Service.SaveContent(ctx, content)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "saved %s\n", meta.StorageKey)
		}
		fmt.Print(content)
		return nil
	})
}

func printEntries(entries []models.SessionMetadata, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTITLE\tMODIFIED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.StorageKey, e.Title, e.LastModified.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func historyList(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		entries, _ := s.Service.ListHistory(ctx, int(cmd.Int("limit")), 0)
		return printEntries(entries, cmd.Bool("json"))
	})
}

func historySearch(ctx context.Context, cmd *cli.Command) error {
	query := cmd.Args().First()
	return withStack(cmd, func(s *internal.Stack) error {
		return printEntries(s.Service.SearchHistory(ctx, query, int(cmd.Int("limit"))), cmd.Bool("json"))
	})
}

func historyShow(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		detail, err := s.Service.GetSnapshot(ctx, cmd.Args().First())
		if err != nil {
			return err
		}
		fmt.Print(detail.Content)
		return nil
	})
}

func historyRename(ctx context.Context, cmd *cli.Command) error {
	key, title := cmd.Args().Get(0), cmd.Args().Get(1)
	if key == "" || title == "" {
		return fmt.Errorf("usage: markpad history rename KEY TITLE")
	}
	return withStack(cmd, func(s *internal.Stack) error {
		_, err := s.Service.RenameSnapshot(ctx, key, title)
		return err
	})
}

func historyRemove(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		for _, key := range cmd.Args().Slice() {
			if err := s.Service.DeleteSnapshot(ctx, key); err != nil {
				return err
			}
		}
		return nil
	})
}

func historyClear(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		return fmt.Errorf("refusing to clear history without --yes")
	}
	return withStack(cmd, func(s *internal.Stack) error {
		return s.Service.ClearHistory(ctx)
	})
}

func historyRestore(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		meta, err := s.Service.RestoreSnapshot(ctx, cmd.Args().First())
		if err != nil {
			return err
		}
		fmt.Println(meta.StorageKey)
		return nil
	})
}

func historyPrune(ctx context.Context, cmd *cli.Command) error {
	return withStack(cmd, func(s *internal.Stack) error {
		res, err := s.Service.PruneHistory(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d entries, swept %d payloads\n", res.Entries, res.Payloads)
		return nil
	})
}

func listFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum entries", Value: 20},
		&cli.BoolFlag{Name: "json", Usage: "Print JSON instead of a table"},
	}
}

func main() {
	cmd := &cli.Command{
		Name:   "markpad",
		Usage:  "Markdown editor backend with local snapshot history and share links",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{Name: "serve", Usage: "Run the HTTP API", Action: serve},
			{Name: "mcp", Usage: "Serve MCP tools on stdio", Action: mcp},
			{Name: "share", Usage: "Print a share link for FILE (or stdin)", ArgsUsage: "[FILE]", Action: share},
			{
				Name:      "open",
				Usage:     "Print the document carried by a share link",
				ArgsUsage: "URL",
				Action:    open,
				Flags:     []cli.Flag{&cli.BoolFlag{Name: "save", Usage: "Also save it as a snapshot"}},
			},
			{
				Name:  "history",
				Usage: "Inspect and edit snapshot history",
				Commands: []*cli.Command{
					{Name: "list", Usage: "List snapshots, newest first", Flags: listFlags(), Action: historyList},
					{Name: "search", ArgsUsage: "QUERY", Usage: "Fuzzy search titles and previews", Flags: listFlags(), Action: historySearch},
					{Name: "show", ArgsUsage: "KEY", Usage: "Print a snapshot's content", Action: historyShow},
					{Name: "rename", ArgsUsage: "KEY TITLE", Usage: "Retitle a snapshot", Action: historyRename},
					{Name: "rm", ArgsUsage: "KEY...", Usage: "Delete snapshots", Action: historyRemove},
					{Name: "clear", Usage: "Delete all snapshots", Flags: []cli.Flag{&cli.BoolFlag{Name: "yes", Usage: "Confirm"}}, Action: historyClear},
					{Name: "restore", ArgsUsage: "KEY", Usage: "Append a copy of an older snapshot", Action: historyRestore},
					{Name: "prune", Usage: "Drop entries whose content is gone and content no entry points at", Action: historyPrune},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
