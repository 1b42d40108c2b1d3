package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/beadsync/beadsync/internal/config"
)

func newConfigCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: groupSetup,
		Short:   "Get and set project configuration",
		Long: `Read and write configuration values.

Keys needed before the database opens (json, db, jsonl, actor, lock-timeout,
db.*) live in .beads/config.yaml. Every other key is stored in the database
config table, which takes precedence over config.yaml and BD_* variables.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			where := "database"
			if config.IsYamlOnlyKey(key) {
				if err := config.SetProjectValue(key, value); err != nil {
					return err
				}
				where = config.ProjectConfigFile
			} else {
				store, err := s.mustStore()
				if err != nil {
					return err
				}
				if err := store.SetConfig(s.ctx, key, value); err != nil {
					return err
				}
			}
			return s.emit(map[string]string{"key": key, "value": value, "location": where}, func(w io.Writer) {
				fmt.Fprintf(w, "Set %s = %s (%s)\n", key, value, where)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Show the effective value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value, source := "", string(config.GetValueSource(key))
			if !config.IsYamlOnlyKey(key) {
				store, err := s.mustStore()
				if err != nil {
					return err
				}
				if value, err = store.GetConfig(s.ctx, key); err != nil {
					return err
				}
				if value != "" {
					source = "database"
				}
			}
			if value == "" {
				value = config.GetString(key)
			}
			return s.emit(map[string]string{"key": key, "value": value, "source": source}, func(w io.Writer) {
				fmt.Fprintf(w, "%s = %s (%s)\n", key, value, source)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List values stored in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.mustStore()
			if err != nil {
				return err
			}
			values, err := store.GetAllConfig(s.ctx)
			if err != nil {
				return err
			}
			return s.emit(values, func(w io.Writer) {
				keys := make([]string, 0, len(values))
				for k := range values {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(w, "%s = %s\n", k, values[k])
				}
			})
		},
	})
	return cmd
}
