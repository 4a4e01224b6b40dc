package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vdavid/chatsync/internal/models"
)

// accountStore is the slice of db.Store the CLI needs.
type accountStore interface {
	CreateAccount(ctx context.Context, platform, username, password string) (*models.Account, error)
	GetAccountStatus(ctx context.Context, accountID string) (*models.AccountStatus, error)
	SetAccountActive(ctx context.Context, accountID string, active bool) error
}

type cycleRunner interface {
	SyncInitial(ctx context.Context, accountID string, daysBack int) models.SyncResult
	SyncIncremental(ctx context.Context, accountID string) models.SyncResult
}

// backend is everything a command may touch. close releases it.
type backend struct {
	accounts        accountStore
	syncer          cycleRunner
	migrate         func(ctx context.Context) error
	initialDaysBack int
	close           func() error
}

type opener func(ctx context.Context) (*backend, error)

var errSyncFailed = errors.New("sync failed")

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:          "synctool",
		Short:        "Run chat sync cycles and manage platform accounts",
		SilenceUsage: true,
	}
	root.AddCommand(newSyncCmd(open), newAccountCmd(open), newMigrateCmd(open))
	return root
}

// withBackend opens the backend for the duration of fn.
func withBackend(cmd *cobra.Command, open opener, fn func(ctx context.Context, b *backend) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := b.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(ctx, b)
}

func newSyncCmd(open opener) *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle for an account",
	}

	var accountID string
	var days int
	initialCmd := &cobra.Command{
		Use:   "initial",
		Short: "Pull every conversation active in the last N days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				if days <= 0 {
					days = b.initialDaysBack
				}
				return report(cmd.OutOrStdout(), b.syncer.SyncInitial(ctx, accountID, days))
			})
		},
	}
	initialCmd.Flags().StringVar(&accountID, "account", "", "account ID")
	initialCmd.Flags().IntVar(&days, "days", 0, "how many days back to look (default from CHATSYNC_INITIAL_DAYS_BACK)")
	_ = initialCmd.MarkFlagRequired("account")

	var incrementalAccountID string
	incrementalCmd := &cobra.Command{
		Use:   "incremental",
		Short: "Pull messages since the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				return report(cmd.OutOrStdout(), b.syncer.SyncIncremental(ctx, incrementalAccountID))
			})
		},
	}
	incrementalCmd.Flags().StringVar(&incrementalAccountID, "account", "", "account ID")
	_ = incrementalCmd.MarkFlagRequired("account")

	syncCmd.AddCommand(initialCmd, incrementalCmd)
	return syncCmd
}

func newAccountCmd(open opener) *cobra.Command {
	accountCmd := &cobra.Command{
		Use:   "account",
		Short: "Manage platform accounts",
	}

	var platformName, username, password string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Store a platform account; the password is encrypted at rest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				account, err := b.accounts.CreateAccount(ctx, platformName, username, password)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), account.ID)
				return err
			})
		},
	}
	addCmd.Flags().StringVar(&platformName, "platform", "", "platform name")
	addCmd.Flags().StringVar(&username, "username", "", "login name")
	addCmd.Flags().StringVar(&password, "password", "", "login password")
	for _, name := range []string{"platform", "username", "password"} {
		_ = addCmd.MarkFlagRequired(name)
	}

	var showID string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show sync status and counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				status, err := b.accounts.GetAccountStatus(ctx, showID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), status)
			})
		},
	}
	showCmd.Flags().StringVar(&showID, "account", "", "account ID")
	_ = showCmd.MarkFlagRequired("account")

	accountCmd.AddCommand(addCmd, showCmd,
		newSetActiveCmd(open, "enable", "Resume scheduled syncs for an account", true),
		newSetActiveCmd(open, "disable", "Stop scheduled syncs for an account", false))
	return accountCmd
}

func newSetActiveCmd(open opener, use, short string, active bool) *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				return b.accounts.SetAccountActive(ctx, accountID, active)
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account ID")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func newMigrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBackend(cmd, open, func(ctx context.Context, b *backend) error {
				return b.migrate(ctx)
			})
		},
	}
}

// report prints the result and turns a failed cycle into a non-zero exit.
func report(w io.Writer, result models.SyncResult) error {
	if err := printJSON(w, result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%w: %s", errSyncFailed, result.Error)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
