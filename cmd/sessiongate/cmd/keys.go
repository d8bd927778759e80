package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessiongate/accesskey"
)

var (
	keyPermissions []string
	keysJSONOutput bool
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage client access keys",
	Long:  `Commands for issuing, listing and (de)activating the access keys clients present in X-API-Key.`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create [client-name]",
	Short: "Issue a new access key",
	Args:  cobra.ExactArgs(1),
	RunE: withValidator(func(ctx context.Context, cmd *cobra.Command, v *accesskey.Validator, args []string) error {
		rec, err := v.CreateKey(ctx, args[0], keyPermissions...)
		if err != nil {
			return err
		}
		if keysJSONOutput {
			return printJSON(cmd, rec)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ID:     %s\n", rec.ID)
		fmt.Fprintf(out, "Client: %s\n", rec.ClientName)
		fmt.Fprintf(out, "Key:    %s\n", rec.Key)
		fmt.Fprintln(out, "\nStore this key now; it is only shown once.")
		return nil
	}),
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List access keys (keys are masked)",
	Args:  cobra.NoArgs,
	RunE: withValidator(func(ctx context.Context, cmd *cobra.Command, v *accesskey.Validator, _ []string) error {
		recs, err := v.List(ctx)
		if err != nil {
			return err
		}
		if keysJSONOutput {
			return printJSON(cmd, recs)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCLIENT\tKEY\tACTIVE\tCREATED\tLAST USED")
		for _, rec := range recs {
			lastUsed := "never"
			if rec.LastUsedAt != nil {
				lastUsed = rec.LastUsedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
				rec.ID, rec.ClientName, rec.Key, rec.Active,
				rec.CreatedAt.UTC().Format(time.RFC3339), lastUsed)
		}
		return tw.Flush()
	}),
}

var keysActivateCmd = &cobra.Command{
	Use:   "activate [id]",
	Short: "Re-activate an access key",
	Args:  cobra.ExactArgs(1),
	RunE: withValidator(func(ctx context.Context, cmd *cobra.Command, v *accesskey.Validator, args []string) error {
		if err := v.Activate(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Access key %s activated\n", args[0])
		return nil
	}),
}

var keysDeactivateCmd = &cobra.Command{
	Use:   "deactivate [id]",
	Short: "Deactivate an access key",
	Args:  cobra.ExactArgs(1),
	RunE: withValidator(func(ctx context.Context, cmd *cobra.Command, v *accesskey.Validator, args []string) error {
		if err := v.Deactivate(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Access key %s deactivated\n", args[0])
		return nil
	}),
}

type validatorFunc func(ctx context.Context, cmd *cobra.Command, v *accesskey.Validator, args []string) error

// withValidator opens the configured access key store around fn.
func withValidator(fn validatorFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		var cleanup closer
		defer cleanup.Close()
		pool := &postgresPool{cfg: cfg.Identity, c: &cleanup}
		repo, err := openAccessKeys(ctx, cfg.AccessKeys, pool, &cleanup, logger)
		if err != nil {
			return err
		}
		v := accesskey.NewValidator(repo, accesskey.WithLogger(logger))
		defer v.Wait()
		return fn(ctx, cmd, v, args)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysCreateCmd, keysListCmd, keysActivateCmd, keysDeactivateCmd)
	keysCmd.PersistentFlags().BoolVar(&keysJSONOutput, "json", false, "Output results as JSON")
	keysCreateCmd.Flags().StringSliceVar(&keyPermissions, "perm", nil, "Permission label to attach (repeatable)")
}
