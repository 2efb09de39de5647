package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/brand-dashboard/internal/orgselect"
	"github.com/JakeFAU/brand-dashboard/internal/store"
)

type orgsOptions struct {
	server  string
	token   string
	timeout time.Duration
}

func newOrgsCmd() *cobra.Command {
	opts := &orgsOptions{}
	cmd := &cobra.Command{
		Use:   "orgs",
		Short: "List and switch the session's organizations",
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8080", "brand dashboard API base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("BRAND_SESSION_TOKEN"), "session token (default $BRAND_SESSION_TOKEN)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(newOrgsListCmd(opts))
	cmd.AddCommand(newOrgsSwitchCmd(opts))
	return cmd
}

func (o *orgsOptions) selector(notifier orgselect.Notifier) *orgselect.Selector {
	identity := orgselect.NewHTTPIdentity(o.server, o.token, &http.Client{Timeout: o.timeout})
	return orgselect.New(identity, orgselect.NewMemoryCache(), notifier, nil)
}

func newOrgsListCmd(opts *orgsOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List organizations grouped by role; * marks the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sel := opts.selector(orgselect.NewWriterNotifier(cmd.ErrOrStderr()))
			if err := sel.Load(cmd.Context()); err != nil {
				return err
			}
			printView(cmd.OutOrStdout(), sel.View(), sel.Active())
			return nil
		},
	}
}

func newOrgsSwitchCmd(opts *orgsOptions) *cobra.Command {
	var clearActive bool
	cmd := &cobra.Command{
		Use:   "switch [organization-id]",
		Short: "Make an organization active, or clear it with --clear",
		Args: func(cmd *cobra.Command, args []string) error {
			if clearActive {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			sel := opts.selector(switchNotifier{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()})
			if err := sel.Load(cmd.Context()); err != nil {
				return err
			}
			var target *string
			if !clearActive {
				target = &args[0]
			}
			return sel.Select(cmd.Context(), target)
		},
	}
	cmd.Flags().BoolVar(&clearActive, "clear", false, "clear the active organization")
	return cmd
}

// switchNotifier sends success messages to stdout and errors to stderr.
type switchNotifier struct {
	out    io.Writer
	errOut io.Writer
}

func (n switchNotifier) Error(msg string) {
	_, _ = fmt.Fprintf(n.errOut, "error: %s\n", msg)
}

func (n switchNotifier) Success(msg string) {
	_, _ = fmt.Fprintln(n.out, msg)
}

func printView(w io.Writer, view orgselect.View, active *store.MemberOrganization) {
	if len(view.Owned) == 0 && len(view.Shared) == 0 && len(view.All) == 0 {
		_, _ = fmt.Fprintln(w, "no organizations")
		return
	}
	section := func(title string, orgs []store.MemberOrganization) {
		if len(orgs) == 0 {
			return
		}
		_, _ = fmt.Fprintln(w, title)
		for _, org := range orgs {
			marker := " "
			if active != nil && active.ID == org.ID {
				marker = "*"
			}
			_, _ = fmt.Fprintf(w, "%s %s (%s)\n", marker, org.Name, org.ID)
		}
	}
	section("Owned", view.Owned)
	section("Shared", view.Shared)
	section("Organizations", view.All)
}
