package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"timecapsule/internal/app"
	"timecapsule/internal/domain"
	"timecapsule/internal/service"

	"github.com/spf13/cobra"
)

func parsePageArg(out *OutputFormatter, arg string) (int, error) {
	page, err := strconv.Atoi(arg)
	if err == nil {
		err = domain.ValidatePage(page)
	}
	if err != nil {
		return 0, out.Fail(ExitCommandError, ErrCodeInvalidArgs, fmt.Sprintf("invalid page %q", arg), err, nil)
	}
	return page, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func describePage(set *domain.PageResponseSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "page %d (last modified %s)", set.PageNumber, formatTime(set.LastModified))
	for _, id := range set.FieldIDs() {
		fmt.Fprintf(&b, "\n  %s: %s", id, set.Responses[id])
	}
	return b.String()
}

// NewSaveCommand creates the save command.
func NewSaveCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "save <page> <field> <value>",
		Short: "Record one answer",
		Long: `Record one answer locally, then push it to the remote table.

A remote failure is reported but does not fail the command; the local copy
is kept and can be pushed later with "sync".`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				page, err := parsePageArg(out, args[0])
				if err != nil {
					return err
				}
				res, err := a.Coordinator.Save(cmd.Context(), page, args[1], args[2])
				if err != nil {
					return out.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid answer", err, nil)
				}
				if res.Outcome == service.PersistenceFailed {
					return out.Fail(ExitFailure, ErrCodeStore, "answer was not saved locally", nil, res)
				}
				if res.RemoteError != "" {
					out.VerboseLog("remote write failed: %s", res.RemoteError)
				}
				return out.Success(res, fmt.Sprintf("Saved page %d %s as %s (%s)", page, args[1], res.Writer.ID, res.Outcome))
			})
		},
	}
}

// NewLoadCommand creates the load command.
func NewLoadCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "load <page>",
		Short: "Show the answers recorded on a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				page, err := parsePageArg(out, args[0])
				if err != nil {
					return err
				}
				res, err := a.Coordinator.Load(cmd.Context(), page)
				if err != nil {
					return out.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid page", err, nil)
				}
				if res.Page == nil {
					return out.Success(res, fmt.Sprintf("page %d: no answers recorded", page))
				}
				return out.Success(res, describePage(res.Page)+fmt.Sprintf("\n(from %s)", res.Source))
			})
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every page with answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				res := a.Coordinator.LoadAll(cmd.Context())
				if len(res.Pages) == 0 {
					return out.Success(res, "no answers recorded")
				}
				lines := make([]string, 0, len(res.Pages)+1)
				for _, set := range res.Pages {
					lines = append(lines, fmt.Sprintf("page %d: %d answer(s), last modified %s",
						set.PageNumber, len(set.Responses), formatTime(set.LastModified)))
				}
				lines = append(lines, fmt.Sprintf("(from %s)", res.Source))
				return out.Success(res, strings.Join(lines, "\n"))
			})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(opts *RootOptions, open Opener) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear [page]",
		Short: "Remove the answers of one page, or of every page with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				if all == (len(args) == 1) {
					return out.Fail(ExitCommandError, ErrCodeInvalidArgs, "pass either a page or --all", nil, nil)
				}
				if all {
					res := a.Coordinator.ClearAllPageResponses(cmd.Context())
					return out.Success(res, fmt.Sprintf("Cleared all pages (local: %t, remote: %t)", res.Local, res.Remote))
				}
				page, err := parsePageArg(out, args[0])
				if err != nil {
					return err
				}
				res, err := a.Coordinator.ClearPageResponse(cmd.Context(), page)
				if err != nil {
					return out.Fail(ExitCommandError, ErrCodeInvalidArgs, "invalid page", err, nil)
				}
				return out.Success(res, fmt.Sprintf("Cleared page %d (local: %t, remote: %t)", page, res.Local, res.Remote))
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "clear every page")
	return cmd
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push every local answer to the remote table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				report := a.Coordinator.SyncLocalToCloud(cmd.Context())
				if report.Error != "" {
					return out.Fail(ExitFailure, ErrCodeRemote, "sync failed", nil, report)
				}
				if report.Rows == 0 {
					return out.Success(report, "Nothing to sync")
				}
				return out.Success(report, fmt.Sprintf("Synced %d answer(s) from %d page(s) as %s", report.Rows, report.Pages, report.Writer.ID))
			})
		},
	}
}

// NewExportCommand creates the export command.
func NewExportCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file.xlsx>",
		Short: "Write every answer to a spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, open, cmd, func(a *app.App, out *OutputFormatter) error {
				data, err := a.Export.ExportXLSX(cmd.Context())
				if err != nil {
					return out.Fail(ExitFailure, ErrCodeGeneric, "export failed", err, nil)
				}
				if err := os.WriteFile(args[0], data, 0o644); err != nil {
					return out.Fail(ExitCommandError, ErrCodeGeneric, "cannot write export file", err, nil)
				}
				return out.Success(map[string]any{"file": args[0], "bytes": len(data)}, "Exported journal to "+args[0])
			})
		},
	}
}
