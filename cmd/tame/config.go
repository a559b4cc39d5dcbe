package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"tame/internal/config"
	logx "tame/pkg/logx"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialise the config file",
	}

	store := func() *config.Store {
		return config.NewStore(root.configPath, logx.NewConsole("WARN"))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), store().Path())
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config (file merged onto defaults)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), config.Encode(store().Load()))
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Print one value by dotted path, e.g. notifications.slack.verbosity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := store().Get(args[0], nil)
			if v == nil {
				return fmt.Errorf("%s: no such key", args[0])
			}
			if s, ok := v.(string); ok {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), s)
				return err
			}
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := store()
			if _, err := os.Stat(s.Path()); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", s.Path())
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := s.Save(config.Defaults()); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "wrote", s.Path())
			return err
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}
