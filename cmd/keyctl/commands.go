package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sipico/license-key-server/internal/auth"
	"github.com/sipico/license-key-server/internal/client"
)

const (
	envServer    = "KEYCTL_SERVER"
	envAccessKey = "KEYCTL_ACCESS_KEY"
)

type globalFlags struct {
	server    string
	accessKey string
	verbose   bool
}

func newRootCmd(out io.Writer, in io.Reader) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "keyctl",
		Short:         "Manage license keys on a key server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetIn(in)

	root.PersistentFlags().StringVar(&g.server, "server", envOr(envServer, client.DefaultBaseURL), "key server URL ($"+envServer+")")
	root.PersistentFlags().StringVar(&g.accessKey, "access-key", os.Getenv(envAccessKey), "admin access key ($"+envAccessKey+")")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log HTTP traffic to stderr")

	root.AddCommand(
		newValidateCmd(g),
		newGenerateCmd(g),
		newListCmd(g),
		newGetCmd(g),
		newStatsCmd(g),
		newExtendCmd(g),
		newResetCmd(g),
		newNotesCmd(g),
		newDeleteCmd(g),
		newPurgeExpiredCmd(g),
		newPurgeAllCmd(g),
		newExportCmd(g),
		newImportCmd(g),
		newHashKeyCmd(),
	)
	return root
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func (g *globalFlags) client(cmd *cobra.Command) *client.Client {
	opts := []client.Option{client.WithAccessKey(g.accessKey)}
	if g.verbose {
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
		opts = append(opts, client.WithDebugLogging(logger))
	}
	return client.New(g.server, opts...)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate CODE HWID",
		Short: "Validate a key for a hardware ID (activates unused keys)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.client(cmd).Validate(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newGenerateCmd(g *globalFlags) *cobra.Command {
	var req client.GenerateRequest
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate new keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			codes, err := g.client(cmd).GenerateKeys(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string][]string{"keys": codes})
		},
	}
	cmd.Flags().IntVarP(&req.Count, "count", "n", 1, "number of keys")
	cmd.Flags().StringVarP(&req.Duration, "duration", "d", "30days", "validity, e.g. 7days or 30minutes")
	cmd.Flags().StringVar(&req.Mode, "mode", "", "expiry anchor: creation or activation (server default when empty)")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "admin notes stored with each key")
	return cmd
}

func newListCmd(g *globalFlags) *cobra.Command {
	var opts client.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := g.client(cmd).ListKeys(cmd.Context(), &opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, keys)
		},
	}
	cmd.Flags().StringVar(&opts.Duration, "duration", "", "only keys with this duration")
	cmd.Flags().StringVar(&opts.Status, "status", "", "available, used, expired or pending")
	cmd.Flags().StringVarP(&opts.Query, "query", "q", "", "substring of code, hwid or notes")
	return cmd
}

func newGetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get CODE",
		Short: "Show one key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := g.client(cmd).GetKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, key)
		},
	}
}

func newStatsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show key counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := g.client(cmd).Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func newExtendCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "extend CODE DAYS",
		Short: "Add days to a key's expiry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid DAYS %q", args[1])
			}
			res, err := g.client(cmd).ExtendKey(cmd.Context(), args[0], days)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newResetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset CODE",
		Short: "Clear a key's activation so it can move to another device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.client(cmd).ResetKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"status": "ok"})
		},
	}
}

func newNotesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "notes CODE TEXT",
		Short: "Replace a key's admin notes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := g.client(cmd).SetNotes(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, key)
		},
	}
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete CODE",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := g.client(cmd).DeleteKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"deleted": args[0]})
		},
	}
}

func newPurgeExpiredCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "purge-expired",
		Short: "Delete every expired key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := g.client(cmd).PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"count": n})
		},
	}
}

func newPurgeAllCmd(g *globalFlags) *cobra.Command {
	var confirm string
	cmd := &cobra.Command{
		Use:   "purge-all",
		Short: `Delete every key (requires --confirm "DELETE ALL")`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := g.client(cmd).PurgeAll(cmd.Context(), confirm)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"count": n})
		},
	}
	cmd.Flags().StringVar(&confirm, "confirm", "", "confirmation phrase")
	return cmd
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all keys as a keys.json document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return g.client(cmd).Export(cmd.Context(), w)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (stdout when empty)")
	return cmd
}

func newImportCmd(g *globalFlags) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: `Load keys from a keys.json document ("-" reads stdin)`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			n, err := g.client(cmd).Import(cmd.Context(), r, overwrite)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int{"imported": n})
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace keys that already exist")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [KEY]",
		Short: "Print a bcrypt hash for ADMIN_KEY_BCRYPT (reads stdin without KEY)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				key = strings.TrimRight(line, "\r\n")
			}
			if key == "" {
				return errors.New("key must not be empty")
			}
			hash, err := auth.HashAccessKey(key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
