package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sayan19951995/metricon-sub002/pkg/client"
)

var (
	sessionServerAddr string
	sessionAPIKey     string
	sessionTimeout    time.Duration
	sessionJSON       bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage tenant sessions through the HTTP API",
	Long: `Talk to a running metricon-messenger over its HTTP API.

The server address and API key default to METRICON_SERVER_ADDR and
METRICON_API_KEY.

Examples:
  metricon-messenger session start acme
  metricon-messenger session send acme 89991234567 "Your order has shipped"
  metricon-messenger session events --tenant acme`,
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <tenant>",
	Short: "Start pairing or connect a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newAPIClient().StartSession(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		if sessionJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "status: %s\n", res.Status)
		if res.BootstrapToken != nil {
			fmt.Fprintf(out, "bootstrap token: %s\n", *res.BootstrapToken)
		}
		return nil
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <tenant>",
	Short: "Show a tenant's session status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newAPIClient().Status(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		if sessionJSON {
			return printJSON(cmd.OutOrStdout(), s)
		}
		printSessions(cmd.OutOrStdout(), []client.Session{*s})
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := newAPIClient().ListSessions(cmdContext(cmd))
		if err != nil {
			return err
		}
		if sessionJSON {
			return printJSON(cmd.OutOrStdout(), list)
		}
		printSessions(cmd.OutOrStdout(), list)
		return nil
	},
}

var sessionTokenCmd = &cobra.Command{
	Use:   "token <tenant>",
	Short: "Print the pending bootstrap token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, ok, err := newAPIClient().BootstrapToken(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("tenant %s has no pending bootstrap token", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var sessionSendCmd = &cobra.Command{
	Use:   "send <tenant> <to> <body>",
	Short: "Send a text message from a tenant",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sent, err := newAPIClient().SendMessage(cmdContext(cmd), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		if !sent {
			return fmt.Errorf("message to %s was not sent", args[1])
		}
		fmt.Fprintln(cmd.OutOrStdout(), "sent")
		return nil
	},
}

var sessionDisconnectCmd = &cobra.Command{
	Use:   "disconnect <tenant>",
	Short: "Log a tenant out and delete its credentials",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newAPIClient().Disconnect(cmdContext(cmd), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tenant %s disconnected\n", args[0])
		return nil
	},
}

var eventsTenant string

var sessionEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream inbound messages as JSON lines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmdContext(cmd), gracefulSignals()...)
		defer stop()

		enc := json.NewEncoder(cmd.OutOrStdout())
		err := newAPIClient(client.WithTimeout(0)).Events(ctx, eventsTenant, func(msg client.InboundMessage) {
			_ = enc.Encode(msg)
		})
		if err != nil && ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	pf := sessionCmd.PersistentFlags()
	pf.StringVar(&sessionServerAddr, "server", "", "server base URL (default: $METRICON_SERVER_ADDR or "+client.DefaultServerAddr+")")
	pf.StringVar(&sessionAPIKey, "api-key", "", "API key (default: $METRICON_API_KEY)")
	pf.DurationVar(&sessionTimeout, "timeout", 0, "request timeout (default: $METRICON_TIMEOUT or 30s)")
	pf.BoolVar(&sessionJSON, "json", false, "print JSON")

	sessionEventsCmd.Flags().StringVar(&eventsTenant, "tenant", "", "only stream this tenant's messages")

	sessionCmd.AddCommand(
		sessionStartCmd,
		sessionStatusCmd,
		sessionListCmd,
		sessionTokenCmd,
		sessionSendCmd,
		sessionDisconnectCmd,
		sessionEventsCmd,
	)
	rootCmd.AddCommand(sessionCmd)
}

// newAPIClient builds a client from the environment with flag overrides
// applied on top.
func newAPIClient(extra ...client.Option) *client.Client {
	var opts []client.Option
	if sessionServerAddr != "" {
		opts = append(opts, client.WithServerAddr(sessionServerAddr))
	}
	if sessionAPIKey != "" {
		opts = append(opts, client.WithAPIKey(sessionAPIKey))
	}
	if sessionTimeout > 0 {
		opts = append(opts, client.WithTimeout(sessionTimeout))
	}
	return client.New(append(opts, extra...)...)
}

func printSessions(w io.Writer, list []client.Session) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tSTATUS\tSINCE\tDETAIL")
	for _, s := range list {
		since, detail := "-", ""
		if s.ConnectedSince != nil {
			since = s.ConnectedSince.Local().Format(time.DateTime)
		}
		switch {
		case s.BootstrapToken != nil:
			detail = "bootstrap token pending"
		case s.RetryAt != nil:
			detail = "reconnect at " + s.RetryAt.Local().Format(time.TimeOnly)
		case s.IdleDeadline != nil:
			detail = "idle until " + s.IdleDeadline.Local().Format(time.TimeOnly)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Tenant, s.Status, since, detail)
	}
	_ = tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// cmdContext returns cmd's context, or Background when run outside Execute.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
