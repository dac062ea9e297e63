package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"voiceloom/internal/config"
	"voiceloom/internal/store"
)

func newUsersCommand(ctx *commandContext) *cobra.Command {
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "Manage user accounts and credits",
	}
	usersCmd.AddCommand(newUsersCreateCommand(ctx))
	usersCmd.AddCommand(newUsersShowCommand(ctx))
	usersCmd.AddCommand(newUsersCreditCommand(ctx))
	return usersCmd
}

func newUsersCreateCommand(ctx *commandContext) *cobra.Command {
	var tierFlag string
	var creditsFlag float64

	cmd := &cobra.Command{
		Use:   "create <uid>",
		Short: "Create a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier := store.Tier(tierFlag)
			switch tier {
			case store.TierFree, store.TierPro, store.TierEnterprise:
			default:
				return fmt.Errorf("unknown tier %q", tierFlag)
			}
			return ctx.withStore(func(_ *config.Config, s *store.Store) error {
				user, err := s.CreateUser(cmd.Context(), args[0], tier, creditsFlag)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (%s tier, %.2f credits)\n",
					user.UID, user.Tier, user.Credits)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&tierFlag, "tier", string(store.TierFree), "Account tier (free, pro, enterprise)")
	cmd.Flags().Float64Var(&creditsFlag, "credits", 0, "Starting credit balance")
	return cmd
}

func newUsersShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <uid>",
		Short: "Show a user's balance and usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, s *store.Store) error {
				user, err := s.GetUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "User:      %s\n", user.UID)
				fmt.Fprintf(out, "Tier:      %s\n", user.Tier)
				fmt.Fprintf(out, "Credits:   %.2f (%.2f pending, %.2f available)\n",
					user.Credits, user.PendingCredits, user.Available())
				fmt.Fprintf(out, "Generated: %d\n", user.TotalVoicesGenerated)
				return nil
			})
		},
	}
}

func newUsersCreditCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "credit <uid> <amount>",
		Short: "Add credits to a user's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("parse amount: %w", err)
			}
			return ctx.withStore(func(_ *config.Config, s *store.Store) error {
				if err := s.AddCredits(cmd.Context(), args[0], amount); err != nil {
					return err
				}
				user, err := s.GetUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Balance for %s is now %.2f\n", user.UID, user.Credits)
				return nil
			})
		},
	}
}
