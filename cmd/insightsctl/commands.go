package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jrsteele09/tenant-insights/fleet"
	"github.com/jrsteele09/tenant-insights/internal/config"
	"github.com/jrsteele09/tenant-insights/licenseopt"
	"github.com/jrsteele09/tenant-insights/rmm"
	"github.com/jrsteele09/tenant-insights/securityscore"
	"github.com/jrsteele09/tenant-insights/server"
	"github.com/jrsteele09/tenant-insights/tenants"
	"github.com/spf13/cobra"
)

// opener builds the service lazily so --help never touches the record store.
type opener func(ctx context.Context) (server.Insights, func() error, error)

type cli struct {
	security config.SecurityConfig
	open     opener
	out      io.Writer
	format   string // "text" | "json"
	svc      server.Insights
	closeFn  func() error
}

// execute runs one command line and releases whatever the command opened.
func execute(security config.SecurityConfig, open opener, out io.Writer, args []string) error {
	c := &cli{security: security, open: open, out: out, format: envOr("INSIGHTSCTL_OUT", "text")}
	root := c.rootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if c.closeFn != nil {
		if closeErr := c.closeFn(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "insightsctl",
		Short:         "Query tenant security scores, license waste and RMM fleets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.format != "text" && c.format != "json" {
				return fmt.Errorf("--out must be text or json")
			}
			if cmd.Name() == "help" || cmd.Annotations["offline"] == "true" {
				return nil
			}
			svc, closeFn, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			c.svc, c.closeFn = svc, closeFn
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(c.out)
	root.PersistentFlags().StringVar(&c.format, "out", c.format, "Output format: json|text (env INSIGHTSCTL_OUT)")

	root.AddCommand(c.scoreCmd(), c.optimizeCmd(), c.fleetCmd(), c.actionCmd(), c.tenantsCmd(), c.tokenCmd())
	return root
}

func (c *cli) scoreCmd() *cobra.Command {
	var invalidate bool
	cmd := &cobra.Command{
		Use:   "score <tenant-id>",
		Short: "Show a tenant's security score",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if invalidate {
				if err := c.svc.InvalidateScoreCache(ctx, args[0]); err != nil {
					return err
				}
			}
			result, err := c.svc.GetSecurityScore(ctx, args[0])
			if err != nil {
				return err
			}
			return c.print(result, func(w io.Writer) { printScore(w, result) })
		},
	}
	cmd.Flags().BoolVar(&invalidate, "refresh", false, "Drop the cached score and directory token first")
	return cmd
}

func (c *cli) optimizeCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Estimate monthly spend on unused licenses across all tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if refresh {
				c.svc.InvalidateOptimization(ctx)
			}
			summary, err := c.svc.GetOptimizationSummary(ctx)
			if err != nil {
				return err
			}
			return c.print(summary, func(w io.Writer) { printSummary(w, summary) })
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore the cached summary")
	return cmd
}

func (c *cli) fleetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fleet",
		Short: "Summarize managed devices per tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.svc.GetFleetSummary(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(report, func(w io.Writer) { printFleet(w, report) })
		},
	}
}

func (c *cli) actionCmd() *cobra.Command {
	var req rmm.ActionRequest
	var action, mode, serviceAction, scriptID string
	cmd := &cobra.Command{
		Use:   "action <device-id>",
		Short: "Dispatch a device action (at most once per --request-id)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			generated := rmm.NewActionRequest(args[0], rmm.ActionType(action))
			req.DeviceID, req.Action = generated.DeviceID, generated.Action
			if req.RequestID == "" {
				req.RequestID = generated.RequestID
			}
			req.RebootMode = rmm.RebootMode(strings.ToUpper(mode))
			req.ServiceAction = rmm.ServiceAction(strings.ToUpper(serviceAction))
			if scriptID != "" {
				req.Script = &rmm.Script{ID: scriptID}
			}
			result, err := c.svc.DispatchDeviceAction(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.print(result, func(w io.Writer) {
				fmt.Fprintf(w, "%s dispatched to device %s (request %s)\n", result.Action, result.DeviceID, result.RequestID)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "reboot|maintenance_start|maintenance_cancel|patch_scan|patch_apply|run_script|service_control")
	cmd.Flags().StringVar(&req.RequestID, "request-id", "", "Idempotency key; generated when empty")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "Reboot reason")
	cmd.Flags().StringVar(&mode, "mode", "", "Reboot mode: normal|forced")
	cmd.Flags().IntVar(&req.MaintenanceMinutes, "minutes", 0, "Maintenance window length")
	cmd.Flags().StringVar(&scriptID, "script-id", "", "Script to run")
	cmd.Flags().StringVar(&req.ServiceID, "service-id", "", "Windows service id")
	cmd.Flags().StringVar(&serviceAction, "service-action", "", "start|stop|restart")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func (c *cli) tenantsCmd() *cobra.Command {
	tenantsCmd := &cobra.Command{Use: "tenants", Short: "Manage tenant records"}

	var offset, limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.svc.ListTenants(cmd.Context(), offset, limit)
			if err != nil {
				return err
			}
			return c.print(list, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tABBRV\tNAME\tDIRECTORY\tRMM ORG")
				for _, t := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Abbreviation, t.Name, t.ExternalTenantID, t.RMMOrganizationID)
				}
				_ = tw.Flush()
			})
		},
	}
	listCmd.Flags().IntVar(&offset, "offset", 0, "Skip this many tenants")
	listCmd.Flags().IntVar(&limit, "limit", 100, "Maximum tenants to list")

	var t tenants.Tenant
	var clientID, clientSecret string
	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID != "" {
				t.Credentials = &tenants.Credentials{ClientID: clientID, ClientSecret: clientSecret}
			}
			if err := c.svc.SaveTenant(cmd.Context(), &t); err != nil {
				return err
			}
			return c.print(&t, func(w io.Writer) { fmt.Fprintf(w, "saved %s (%s)\n", t.Abbreviation, t.ID) })
		},
	}
	saveCmd.Flags().StringVar(&t.ID, "id", "", "Tenant id; generated when empty")
	saveCmd.Flags().StringVar(&t.Abbreviation, "abbreviation", "", "Short code, e.g. ACME")
	saveCmd.Flags().StringVar(&t.Name, "name", "", "Display name")
	saveCmd.Flags().StringVar(&t.ExternalTenantID, "directory-id", "", "Identity directory id")
	saveCmd.Flags().StringVar(&t.RMMOrganizationID, "rmm-org", "", "RMM organization id")
	saveCmd.Flags().StringVar(&clientID, "client-id", "", "Per-tenant app registration id")
	saveCmd.Flags().StringVar(&clientSecret, "client-secret", "", "Per-tenant app registration secret")

	tenantsCmd.AddCommand(listCmd, saveCmd)
	return tenantsCmd
}

func (c *cli) tokenCmd() *cobra.Command {
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:         "token <subject>",
		Short:       "Issue an API access token signed with JWT_SECRET",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"offline": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			signed, err := server.IssueAccessToken(c.security, args[0], roles, ttl)
			if err != nil {
				return err
			}
			return c.print(map[string]string{"access_token": signed, "token_type": "Bearer"}, func(w io.Writer) {
				fmt.Fprintln(w, signed)
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", []string{"viewer"}, "viewer|technician|admin (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", server.DefaultAccessTokenTTL, "Token lifetime")
	return cmd
}

func (c *cli) print(v interface{}, text func(io.Writer)) error {
	if c.format == "json" {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(c.out)
	return nil
}

func incomplete(w io.Writer, label string, failed []string) {
	if len(failed) > 0 {
		fmt.Fprintf(w, "Data incomplete for %s: %s\n", label, strings.Join(failed, ", "))
	}
}

func printScore(w io.Writer, r *securityscore.Result) {
	fmt.Fprintf(w, "%s security score: %d/100\n", r.TenantAbbrv, r.TotalScore)
	incomplete(w, "sources", r.FailedSources)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tSTATUS\tSCORE\tDETAILS")
	for _, chk := range r.Checks {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\n", chk.Name, chk.Status, chk.Score, chk.Weight, chk.Details)
	}
	_ = tw.Flush()
}

func printSummary(w io.Writer, s *licenseopt.Summary) {
	fmt.Fprintf(w, "Estimated waste: $%.2f/month across %d tenants (%d SKUs analyzed)\n",
		s.TotalEstimatedWaste, s.AnalyzedTenants, s.AnalyzedSkus)
	incomplete(w, "tenants", s.FailedTenants)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tSKU\tUNUSED\tUTILIZED\tWASTE/MO\tSEVERITY")
	for _, r := range s.Recommendations {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%d%%\t$%.2f\t%s\n",
			r.TenantAbbrv, r.SkuPartNumber, r.UnusedCount, r.TotalEnabled, r.UtilizationPct, r.EstimatedWastePerMonth, r.Severity)
	}
	_ = tw.Flush()
}

func printFleet(w io.Writer, r *fleet.Report) {
	fmt.Fprintf(w, "%d devices, %d offline\n", r.TotalDevices, r.OfflineDevices)
	incomplete(w, "tenants", r.FailedTenants)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tDEVICES\tOFFLINE\tCLASSES")
	for _, t := range r.Tenants {
		classes := make([]string, 0, len(t.ByNodeClass))
		for _, class := range t.NodeClasses() {
			classes = append(classes, fmt.Sprintf("%s=%d", class, t.ByNodeClass[class]))
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", t.TenantAbbrv, t.TotalDevices, t.OfflineDevices, strings.Join(classes, " "))
	}
	_ = tw.Flush()
}
