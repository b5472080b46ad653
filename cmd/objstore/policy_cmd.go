package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bleepstore/objstore/pkg/model"
)

func newPolicyCmd(a *app) *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage lifecycle policies",
		Long:  `Lifecycle policies delete or archive objects under a prefix once they are older than the retention period.`,
	}

	var (
		prefix    string
		retention int64
		ageDays   int
		action    string
		destType  string
		settings  map[string]string
		disabled  bool
	)
	addCmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Create or replace a lifecycle policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := model.LifecycleSpec{
				ID:                  args[0],
				Prefix:              prefix,
				Action:              model.LifecycleAction(action),
				DestinationType:     destType,
				DestinationSettings: settings,
				Disabled:            disabled,
			}
			if cmd.Flags().Changed("retention") {
				spec.RetentionSeconds = &retention
			} else if cmd.Flags().Changed("age-days") {
				spec.AgeDays = &ageDays
			}
			res, err := a.client.AddPolicy(cmd.Context(), model.NewLifecyclePolicy(spec))
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				printMessage(w, res.Message, "Added lifecycle policy "+args[0])
			})
		},
	}
	addCmd.Flags().StringVarP(&prefix, "prefix", "p", "", "key prefix the policy applies to")
	addCmd.Flags().Int64Var(&retention, "retention", 0, "retention in seconds")
	addCmd.Flags().IntVar(&ageDays, "age-days", 0, "retention in days (ignored when --retention is set)")
	addCmd.Flags().StringVar(&action, "action", string(model.ActionDelete), "action: delete, archive")
	addCmd.Flags().StringVarP(&destType, "type", "t", "", "archive destination type (required for archive)")
	addCmd.Flags().StringToStringVar(&settings, "set", nil, "archive destination setting key=value (repeatable)")
	addCmd.Flags().BoolVar(&disabled, "disabled", false, "create the policy disabled")

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a lifecycle policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.RemovePolicy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				printMessage(w, res.Message, "Removed lifecycle policy "+args[0])
			})
		},
	}

	var lsPrefix string
	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List lifecycle policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policies, err := a.client.GetPolicies(cmd.Context(), lsPrefix)
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), policies, func(w io.Writer) { printPolicies(w, policies) })
		},
	}
	lsCmd.Flags().StringVarP(&lsPrefix, "prefix", "p", "", "only policies whose prefix starts with this")

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Run every enabled lifecycle policy now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client.ApplyPolicies(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "Applied %d policies, processed %d objects\n", res.PoliciesCount, res.ObjectsProcessed)
			})
		},
	}

	policyCmd.AddCommand(addCmd, rmCmd, lsCmd, applyCmd)
	return policyCmd
}
