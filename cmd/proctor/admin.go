package main

import (
	"errors"
	"fmt"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stemsi/exstem-proctor/internal/client"
	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// ─── token ─────────────────────────────────────────────────────────────

func tokenCmd() *cobra.Command {
	var (
		kind string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the UI shell or a proctor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _ := loadRuntime()

			tokenType := service.TokenType(kind)
			if tokenType != service.TokenTypeShell && tokenType != service.TokenTypeProctor {
				return fmt.Errorf("unknown token type %q (shell, proctor)", kind)
			}

			token, err := service.NewAuthService(cfg).GenerateToken(tokenType, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kind, "type", "t", string(service.TokenTypeShell), "Token type (shell, proctor)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (0 = JWT_EXPIRY_HOURS)")
	return cmd
}

// ─── hash-password ─────────────────────────────────────────────────────

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a proctor override password for PROCTOR_PASSWORD_HASH",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _ := loadRuntime()
			out := cmd.OutOrStdout()

			fmt.Fprint(out, "Enter Password: ")
			first, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(out)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if len(first) < 6 {
				return errors.New("password must be at least 6 characters")
			}

			fmt.Fprint(out, "Confirm Password: ")
			second, err := term.ReadPassword(int(syscall.Stdin))
			fmt.Fprintln(out)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if string(first) != string(second) {
				return errors.New("passwords do not match")
			}

			hash, err := service.NewAuthService(cfg).HashPassword(string(first))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "PROCTOR_PASSWORD_HASH=%s\n", hash)
			return nil
		},
	}
}

// ─── queue ─────────────────────────────────────────────────────────────

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the offline submission queue",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List unsent attempts",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withQueue(cmd, func(queue *service.OfflineQueue) error {
					entries, err := queue.List(cmd.Context())
					if err != nil {
						return err
					}
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ATTEMPT\tEXAM\tSTATUS\tRETRIES\tQUESTIONS\tTIME TAKEN\tQUEUED AT\tLAST ERROR")
					for _, e := range entries {
						fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
							e.AttemptID, e.Meta.ExamTitle, e.Status, e.Retries, e.Meta.QuestionCount,
							time.Duration(e.Meta.TimeTakenSeconds)*time.Second,
							e.SubmittedAt.Format(time.RFC3339), e.LastError)
					}
					return w.Flush()
				})
			},
		},
		&cobra.Command{
			Use:   "submit [attempt-id]",
			Short: "Send one queued attempt, or all of them",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withQueue(cmd, func(queue *service.OfflineQueue) error {
					if len(args) == 1 {
						if err := queue.SubmitOne(cmd.Context(), args[0]); err != nil {
							return err
						}
						fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s\n", args[0])
						return nil
					}
					summary, err := queue.SubmitAll(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Submitted: %d, Failed: %d, Remaining: %d\n",
						summary.Submitted, summary.Failed, summary.Remaining)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "delete <attempt-id>",
			Short: "Discard a queued attempt without sending it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withQueue(cmd, func(queue *service.OfflineQueue) error {
					if err := queue.Delete(cmd.Context(), args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

// withQueue opens the store and hands fn a queue bound to the grading API.
// The daemon must not be running against the same store.
func withQueue(cmd *cobra.Command, fn func(*service.OfflineQueue) error) error {
	cfg, log := loadRuntime()
	ctx := cmd.Context()

	kv, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	api := client.NewGradingClient(cfg.GradingAPIURL, cfg.GradingAPIToken, cfg.DeviceID, cfg.GradingAPITimeout)
	queue := service.NewOfflineQueue(
		repository.NewQueueRepository(kv), api, clock.Real(),
		config.DefaultTimings.QueueSubmitInterval, log,
	)
	if _, err := queue.Recover(ctx); err != nil {
		return err
	}
	return fn(queue)
}

// ─── migrate ───────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL store schema (sqlite, postgres)",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, _ := loadRuntime()
				if err := database.MigrateUp(cfg); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrated up successfully")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, _ := loadRuntime()
				if err := database.MigrateDown(cfg); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrated down successfully")
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, _ := loadRuntime()
				version, dirty, err := database.MigrateVersion(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Version: %d, Dirty: %t\n", version, dirty)
				return nil
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				cfg, _ := loadRuntime()
				if err := database.MigrateForce(cfg, v); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Forced version %d\n", v)
				return nil
			},
		},
	)
	return cmd
}
