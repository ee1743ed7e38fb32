package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nevindra/pgagent"
	"github.com/nevindra/pgagent/internal/config"
	"github.com/nevindra/pgagent/internal/repl"
	"github.com/nevindra/pgagent/internal/server"
)

type rootFlags struct {
	config string
	driver string
	db     string
	host   string
	port   int
}

// load applies command-line flags on top of file and env configuration.
func (f *rootFlags) load() config.Config {
	cfg := config.Load(f.config)
	if f.driver != "" {
		cfg.Database.Driver = f.driver
	}
	if f.db != "" {
		if cfg.Database.Driver == "sqlite" {
			cfg.Database.Path = f.db
		} else {
			cfg.Database.URL = f.db
		}
	}
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port > 0 {
		cfg.Server.Port = f.port
	}
	return cfg
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "pgagent",
		Short:         "Memory-augmented chat backed by PostgreSQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.config, "config", "", "path to pgagent.toml (default $PGAGENT_CONFIG or ./pgagent.toml)")
	pf.StringVar(&flags.driver, "driver", "", "database driver: postgres or sqlite")
	pf.StringVar(&flags.db, "db", "", "database URL (postgres) or file path (sqlite)")

	// withApp wires the runtime for the duration of one command.
	withApp := func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg := flags.load()
			logger := newLogger(cmd.ErrOrStderr(), cfg)
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(cmd.Context()); err != nil {
					logger.Warn("shutdown", "err", err)
				}
			}()
			return run(cmd, a, args)
		}
	}

	chat := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat in the terminal",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			return repl.New(a.orch, cmd.InOrStdin(), cmd.OutOrStdout(), repl.WithLogger(a.logger)).Run(cmd.Context())
		}),
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and WebSocket API",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			srv := server.New(a.orch, server.WithLogger(a.logger))
			return srv.ListenAndServe(cmd.Context(), a.cfg.Addr())
		}),
	}
	serve.Flags().StringVar(&flags.host, "host", "", "listen host (default 127.0.0.1)")
	serve.Flags().IntVar(&flags.port, "port", 0, "listen port (default 8000)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			st, err := a.memory.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "memories: %d\nchunks:   %d\nsessions: %d\n", st.TotalMemories, st.TotalChunks, st.TotalSessions)
			for _, cat := range sortedKeys(st.Categories) {
				fmt.Fprintf(out, "  %-12s %d\n", cat, st.Categories[cat])
			}
			return nil
		}),
	}

	root.AddCommand(chat, serve, stats, settingsCmd(withApp), memoriesCmd(withApp))
	return root
}

type appRunner func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func settingsCmd(withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{Use: "settings", Short: "Read and write runtime settings"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all settings",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				settings, err := a.memory.GetAllSettings(cmd.Context())
				if err != nil {
					return err
				}
				for _, k := range sortedKeys(settings) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", k, formatValue(settings[k]))
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one setting",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				v, err := a.memory.GetSetting(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if v == nil {
					return fmt.Errorf("setting %q is not set", args[0])
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatValue(v))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a setting; JSON values are decoded",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				if err := a.memory.SetSetting(cmd.Context(), args[0], pgagent.ParseSettingValue(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
				return nil
			}),
		},
	)
	return cmd
}

func memoriesCmd(withApp appRunner) *cobra.Command {
	var limit, offset int
	var source string
	cmd := &cobra.Command{Use: "memories", Short: "Manage stored memories"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List memories, newest first",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			memories, err := a.memory.ListRecent(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			printMemories(cmd.OutOrStdout(), memories)
			return nil
		}),
	}
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of memories")
	list.Flags().IntVar(&offset, "offset", 0, "number of memories to skip")

	add := &cobra.Command{
		Use:   "add <content>",
		Short: "Store a memory, embedding it with the configured provider",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := a.orch.StoreMemory(cmd.Context(), args[0], source)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
	add.Flags().StringVar(&source, "source", pgagent.RoleUser, "memory source")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ok, err := a.memory.DeleteByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("memory %s not found", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		}),
	}

	cmd.AddCommand(list, add, del)
	return cmd
}

func printMemories(w io.Writer, memories []pgagent.Memory) {
	if len(memories) == 0 {
		fmt.Fprintln(w, "no memories")
		return
	}
	for _, m := range memories {
		fmt.Fprintf(w, "%s  [%s] %s\n", m.ID, m.Category, m.Content)
	}
}

// formatValue prints strings bare and everything else as JSON.
func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
