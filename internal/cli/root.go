package cli

import (
	"fmt"

	"timecapsule/internal/app"
	"timecapsule/internal/common/logger"
	"timecapsule/internal/config"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Opener builds the app a command runs against. Commands close it when done.
type Opener func(opts *RootOptions) (*app.App, error)

// DefaultOpener loads configuration from the environment and wires the app
// with a stderr logger.
func DefaultOpener(opts *RootOptions) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.NewCLILogger(opts.Verbose)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, log)
}

// NewRootCommand creates the timecapsule command tree.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "timecapsule",
		Short: "Hip-Hop Time Capsule journal storage",
		Long: `Record, read and synchronize journal answers of the Hip-Hop Time Capsule.

Answers are always written to the on-device store first and pushed to the
remote table when it is reachable. Reads prefer the remote copy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSaveCommand(opts, open))
	cmd.AddCommand(NewLoadCommand(opts, open))
	cmd.AddCommand(NewListCommand(opts, open))
	cmd.AddCommand(NewClearCommand(opts, open))
	cmd.AddCommand(NewSyncCommand(opts, open))
	cmd.AddCommand(NewWhoAmICommand(opts, open))
	cmd.AddCommand(NewMigrateCommand(opts, open))
	cmd.AddCommand(NewSignInCommand(opts, open))
	cmd.AddCommand(NewSignOutCommand(opts, open))
	cmd.AddCommand(NewDemoCommand(opts, open))
	cmd.AddCommand(NewExportCommand(opts, open))
	cmd.AddCommand(NewServeCommand(opts, open))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// withApp opens the app, runs fn, and closes the app.
func withApp(opts *RootOptions, open Opener, cmd *cobra.Command, fn func(a *app.App, out *OutputFormatter) error) error {
	out := newFormatter(opts, cmd)
	a, err := open(opts)
	if err != nil {
		return out.Fail(ExitCommandError, ErrCodeStore, "cannot open journal store", err, nil)
	}
	defer a.Close()
	return fn(a, out)
}
