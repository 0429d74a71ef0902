package cli

import (
	"errors"
	"fmt"
	"strings"

	"timecapsule/internal/app"
	"timecapsule/internal/service"

	"github.com/spf13/cobra"
)

// NewWhoAmICommand creates the whoami command.
func NewWhoAmICommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the writer answers are recorded under",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				ctx := cmd.Context()
				writer := a.Identity.CurrentWriterID(ctx)
				user := a.Identity.CurrentUser(ctx)
				text := fmt.Sprintf("writer: %s (%s)", writer.ID, writer.Kind)
				if user != nil && user.Email != "" {
					text += "\nemail: " + user.Email
				}
				return out.Success(map[string]any{"writer": writer, "user": user}, text)
			})
		},
	}
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Move anonymous answers to the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				res := a.Identity.MigrateAnonymousData(cmd.Context())
				if res.Status == service.MigrationFailed {
					return out.Fail(ExitFailure, ErrCodeRemote, "migration failed, will retry on next sign-in", nil, res)
				}
				return out.Success(res, migrationText(res))
			})
		},
	}
}

func migrationText(res service.MigrationResult) string {
	switch res.Status {
	case service.MigrationCompleted:
		return fmt.Sprintf("Migrated %d answer(s) from %s to %s", res.RowsMoved, res.FromID, res.ToID)
	case service.MigrationNoAccount:
		return "Not signed in, nothing migrated"
	default:
		return "No anonymous answers to migrate"
	}
}

// NewSignInCommand creates the signin command.
func NewSignInCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "signin <access-token>",
		Short: "Sign in with an access token and migrate anonymous answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				res, err := a.Sessions.SignIn(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, service.ErrInvalidToken) || errors.Is(err, service.ErrAuthNotConfigured) {
						return out.Fail(ExitFailure, ErrCodeAuth, "sign-in rejected", err, nil)
					}
					return out.Fail(ExitFailure, ErrCodeStore, "sign-in failed", err, nil)
				}
				text := fmt.Sprintf("Signed in as %s\n%s", res.Session.UserID, migrationText(res.Migration))
				if res.Migration.Status == service.MigrationFailed {
					text = fmt.Sprintf("Signed in as %s\nMigration failed (%s); run \"migrate\" to retry", res.Session.UserID, res.Migration.Error)
				}
				return out.Success(res, text)
			})
		},
	}
}

// NewSignOutCommand creates the signout command.
func NewSignOutCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Forget the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				if err := a.Sessions.SignOut(cmd.Context()); err != nil {
					return out.Fail(ExitFailure, ErrCodeStore, "sign-out failed", err, nil)
				}
				return out.Success(map[string]bool{"signed_out": true}, "Signed out")
			})
		},
	}
}

// NewDemoCommand creates the demo command group.
func NewDemoCommand(opts *RootOptions, open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Manage demo profiles (development builds only)",
	}

	setMode := func(use, short string, on bool) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
					var err error
					if on {
						err = a.Demo.EnableDemoMode(cmd.Context())
					} else {
						err = a.Demo.DisableDemoMode(cmd.Context())
					}
					if err != nil {
						return demoFailure(out, err)
					}
					return out.Success(map[string]bool{"enabled": on}, "demo mode: "+onOff(on))
				})
			},
		}
	}
	cmd.AddCommand(setMode("on", "Enable demo mode", true))
	cmd.AddCommand(setMode("off", "Disable demo mode", false))

	cmd.AddCommand(&cobra.Command{
		Use:   "toggle",
		Short: "Flip demo mode; turning it off signs the demo profile out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				on, err := a.Demo.ToggleDemoMode(cmd.Context())
				if err != nil {
					return demoFailure(out, err)
				}
				return out.Success(map[string]bool{"enabled": on}, "demo mode: "+onOff(on))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "users",
		Short: "List the built-in demo profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				users := a.Demo.DemoUsers()
				lines := make([]string, 0, len(users))
				for _, u := range users {
					lines = append(lines, fmt.Sprintf("%s  %s <%s>", u.ID, u.Name, u.Email))
				}
				return out.Success(users, strings.Join(lines, "\n"))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "signin [profile-id]",
		Short: "Select a demo profile (defaults to the first)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				id := ""
				if len(args) == 1 {
					id = args[0]
				}
				user, err := a.Demo.SignInWithDemoUser(cmd.Context(), id)
				if err != nil {
					return demoFailure(out, err)
				}
				return out.Success(user, fmt.Sprintf("Signed in as %s (%s)", user.ID, user.Email))
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "signout",
		Short: "Clear the selected demo profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				if err := a.Demo.SignOutDemoUser(cmd.Context()); err != nil {
					return demoFailure(out, err)
				}
				return out.Success(map[string]bool{"signed_out": true}, "Demo profile signed out")
			})
		},
	})

	return cmd
}

func demoFailure(out *OutputFormatter, err error) error {
	if errors.Is(err, service.ErrDemoUnavailable) || errors.Is(err, service.ErrDemoModeDisabled) {
		return out.Fail(ExitFailure, ErrCodeAuth, "demo profiles unavailable", err, nil)
	}
	return out.Fail(ExitFailure, ErrCodeStore, "demo request failed", err, nil)
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
