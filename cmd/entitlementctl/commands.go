package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/growth-entitlements/internal/domain"
	"github.com/spec-kit/growth-entitlements/internal/repository"
	"github.com/spec-kit/growth-entitlements/internal/service"
)

func newSwitchCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch",
		Short: "Show or change the growth system switch",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current switch value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "growth system enabled: %t\n", c.control.GlobalSwitch(cmd.Context()))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:       "set <on|off>",
		Short:     "Turn the growth system on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			if err := c.control.SetGlobalSwitch(cmd.Context(), enabled, c.actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "growth system enabled: %t\n", enabled)
			return nil
		},
	})
	return cmd
}

func newCodesCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Manage redemption codes",
	}

	var (
		description string
		maxUsage    int
		expires     string
		inactive    bool
	)
	create := &cobra.Command{
		Use:   "create [code]",
		Short: "Create a code; omit the code to generate one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := service.CodeCreateInput{
				Description: description,
				MaxUsage:    maxUsage,
				CreatedBy:   c.actor,
			}
			if len(args) == 1 {
				in.Code = args[0]
			}
			if inactive {
				active := false
				in.IsActive = &active
			}
			if expires != "" {
				at, err := time.Parse(time.RFC3339, expires)
				if err != nil {
					return fmt.Errorf("invalid --expires, want RFC3339: %w", err)
				}
				in.ExpiresAt = &at
			}
			code, err := c.codes.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%d usages)\n", code.Code, code.MaxUsage)
			return nil
		},
	}
	create.Flags().StringVar(&description, "description", "", "Code description")
	create.Flags().IntVar(&maxUsage, "max-usage", 1, "Total usages shared by every redeemer")
	create.Flags().StringVar(&expires, "expires", "", "Expiry time (RFC3339)")
	create.Flags().BoolVar(&inactive, "inactive", false, "Create the code disabled")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List codes, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			codes, err := c.codes.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tUSAGE\tACTIVE\tEXPIRES\tID")
			for _, code := range codes {
				fmt.Fprintf(w, "%s\t%d/%d\t%t\t%s\t%s\n",
					code.Code, code.CurrentUsage, code.MaxUsage, code.IsActive, formatTime(code.ExpiresAt), code.ID)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Summarize codes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := c.codes.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Print an unused random code",
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := c.codes.GenerateUniqueCode(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	})
	return cmd
}

func newGrantsCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "Manage order grants",
	}

	var (
		identity string
		name     string
		maxUsage int
		note     string
	)
	order := &cobra.Command{
		Use:   "order <order-id> <order-number>",
		Short: "Grant usages for an order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			grant, err := c.grants.GrantForOrder(cmd.Context(), "", service.GrantOrderInput{
				OrderID:         orderID,
				OrderNumber:     args[1],
				SubjectIdentity: identity,
				SubjectName:     name,
				MaxUsage:        maxUsage,
				GrantedBy:       c.actor,
				Note:            note,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s: %d/%d used (id %s)\n",
				grant.SourceReference, grant.SubjectIdentity, grant.UsageCount, grant.MaxUsage, grant.ID)
			return nil
		},
	}
	order.Flags().StringVar(&identity, "identity", "", "Customer identity (email)")
	order.Flags().StringVar(&name, "name", "", "Customer name")
	order.Flags().IntVar(&maxUsage, "max-usage", 1, "Usages granted by the order")
	order.Flags().StringVar(&note, "note", "", "Operator note")
	_ = order.MarkFlagRequired("identity")
	cmd.AddCommand(order)

	cmd.AddCommand(newToggleCommand(c, "enable", true))
	cmd.AddCommand(newToggleCommand(c, "disable", false))

	var (
		kind  string
		limit int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List grants, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := repository.GrantFilter{Limit: limit}
			if kind != "" {
				k := domain.SourceKind(strings.ToLower(kind))
				filter.SourceKind = &k
			}
			grants, err := c.grants.ListGrants(cmd.Context(), filter)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tREFERENCE\tIDENTITY\tUSAGE\tENABLED\tID")
			for _, g := range grants {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%t\t%s\n",
					g.SourceKind, g.SourceReference, g.SubjectIdentity, g.UsageCount, g.MaxUsage, g.IsEnabled, g.ID)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&kind, "source", "", "Only grants of this source (order|code)")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum grants to print")
	cmd.AddCommand(list)
	return cmd
}

func newToggleCommand(c *cli, use string, enabled bool) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   use + " <grant-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a grant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				grant *domain.Grant
				err   error
			)
			if enabled {
				grant, err = c.grants.EnableGrant(cmd.Context(), args[0], c.actor, note)
			} else {
				grant, err = c.grants.DisableGrant(cmd.Context(), args[0], c.actor, note)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "grant %s enabled: %t\n", grant.ID, grant.IsEnabled)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "Operator note")
	return cmd
}

func newResolveCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <identity>",
		Short: "Print the resolved entitlement of an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := c.resolver.Resolve(cmd.Context(), domain.Caller{Identity: domain.ParseIdentity(args[0])})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resolved)
		},
	}
}

func parseSwitch(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "true", "enabled", "1":
		return true, nil
	case "off", "false", "disabled", "0":
		return false, nil
	default:
		return false, fmt.Errorf("switch value must be on or off, got %q", value)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
