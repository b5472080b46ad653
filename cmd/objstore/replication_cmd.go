package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bleepstore/objstore/pkg/model"
)

func newReplicationCmd(a *app) *cobra.Command {
	replCmd := &cobra.Command{
		Use:     "replication",
		Aliases: []string{"repl"},
		Short:   "Manage replication policies",
	}

	var (
		source       string
		sourceSet    map[string]string
		sourcePrefix string
		dest         string
		destSet      map[string]string
		interval     time.Duration
		mode         string
		disabled     bool
	)
	addCmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Create or replace a replication policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := model.ParseReplicationMode(mode)
			if err != nil {
				return err
			}
			policy := model.ReplicationPolicy{
				ID:                   args[0],
				SourceBackend:        source,
				SourceSettings:       sourceSet,
				SourcePrefix:         sourcePrefix,
				DestinationBackend:   dest,
				DestinationSettings:  destSet,
				CheckIntervalSeconds: int64(interval / time.Second),
				Enabled:              !disabled,
				Mode:                 m,
			}
			res, err := a.client.AddReplicationPolicy(cmd.Context(), policy)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				printMessage(w, res.Message, "Added replication policy "+args[0])
			})
		},
	}
	addCmd.Flags().StringVar(&source, "source", "", "source backend (required)")
	addCmd.Flags().StringToStringVar(&sourceSet, "source-set", nil, "source setting key=value (repeatable)")
	addCmd.Flags().StringVarP(&sourcePrefix, "prefix", "p", "", "only replicate keys under this prefix")
	addCmd.Flags().StringVar(&dest, "dest", "", "destination backend (required)")
	addCmd.Flags().StringToStringVar(&destSet, "dest-set", nil, "destination setting key=value (repeatable)")
	addCmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "check interval")
	addCmd.Flags().StringVar(&mode, "mode", "transparent", "replication mode: transparent, opaque")
	addCmd.Flags().BoolVar(&disabled, "disabled", false, "create the policy disabled")
	_ = addCmd.MarkFlagRequired("source")
	_ = addCmd.MarkFlagRequired("dest")

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a replication policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.RemoveReplicationPolicy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				printMessage(w, res.Message, "Removed replication policy "+args[0])
			})
		},
	}

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List replication policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := a.client.GetReplicationPolicies(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), policies, func(w io.Writer) { printReplicationPolicies(w, policies) })
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one replication policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := a.client.GetReplicationPolicy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), policy, func(w io.Writer) { printReplicationPolicy(w, policy) })
		},
	}

	var (
		parallel bool
		workers  int
	)
	triggerCmd := &cobra.Command{
		Use:   "trigger <id>",
		Short: "Run a replication policy now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.TriggerReplication(cmd.Context(), model.TriggerOptions{
				PolicyID:    args[0],
				Parallel:    parallel,
				WorkerCount: workers,
			})
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) { printSyncResult(w, res) })
		},
	}
	triggerCmd.Flags().BoolVar(&parallel, "parallel", false, "copy objects concurrently")
	triggerCmd.Flags().IntVarP(&workers, "workers", "w", 1, "concurrent copies when --parallel is set")

	statusCmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show cumulative replication statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.client.GetReplicationStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), st, func(w io.Writer) { printReplicationStatus(w, st) })
		},
	}

	replCmd.AddCommand(addCmd, rmCmd, lsCmd, getCmd, triggerCmd, statusCmd)
	return replCmd
}
