// Package cli implements dispatchctl, an operator and driver-simulation
// client for the dispatcher's HTTP API.
package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

const defaultAddr = "http://localhost:8080"

// NewRootCommand builds the dispatchctl command tree. Replies are written
// to out as indented JSON.
func NewRootCommand(out io.Writer) *cobra.Command {
	var addr string

	rootCmd := &cobra.Command{
		Use:           "dispatchctl",
		Short:         "Drive and inspect a captain dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&addr, "addr", defaultAddr, "dispatcher base URL")

	client := func() *Client { return NewClient(addr) }
	run := func(cmd *cobra.Command, method, path string, body any) error {
		raw, err := client().Do(cmd.Context(), method, path, body)
		if err != nil {
			return err
		}
		return printJSON(out, raw)
	}

	rootCmd.AddCommand(jobCommands(run)...)
	rootCmd.AddCommand(agentCmd(run))
	rootCmd.AddCommand(adminCmd(run))
	rootCmd.AddCommand(&cobra.Command{
		Use:   "diagnostics",
		Short: "Show order, driver, lease and throttle counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, http.MethodGet, "/v1/diagnostics", nil)
		},
	})

	return rootCmd
}

type runFunc func(cmd *cobra.Command, method, path string, body any) error

type agentBody struct {
	AgentID string `json:"agent_id"`
}

func jobPath(jobID, action string) string {
	path := "/v1/jobs/" + url.PathEscape(jobID)
	if action != "" {
		path += "/" + action
	}
	return path
}

func jobCommands(run runFunc) []*cobra.Command {
	leaseCommand := func(action, short string) *cobra.Command {
		var agentID string

		command := &cobra.Command{
			Use:   action + " <order-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, http.MethodPost, jobPath(args[0], action), agentBody{AgentID: agentID})
			},
		}
		command.Flags().StringVar(&agentID, "agent", "", "driver id")
		_ = command.MarkFlagRequired("agent")
		return command
	}

	var progressAgent string
	advanceCmd := &cobra.Command{
		Use:   "advance <order-id> <status>",
		Short: "Report delivery progress (picked_up, delivered)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, http.MethodPut, jobPath(args[0], "status"), map[string]string{
				"agent_id": progressAgent,
				"status":   args[1],
			})
		},
	}
	advanceCmd.Flags().StringVar(&progressAgent, "agent", "", "assigned driver id")
	_ = advanceCmd.MarkFlagRequired("agent")

	return []*cobra.Command{
		{
			Use:   "track <order-id>",
			Short: "Import an order from the store",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, http.MethodPost, jobPath(args[0], "track"), nil)
			},
		},
		{
			Use:   "show <order-id>",
			Short: "Show an order's lease and attempt history",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, http.MethodGet, jobPath(args[0], ""), nil)
			},
		},
		leaseCommand("attempt", "Ask for the lease on an order"),
		leaseCommand("confirm", "Confirm a held lease"),
		leaseCommand("cancel", "Give up a held lease"),
		advanceCmd,
	}
}

func agentCmd(run runFunc) *cobra.Command {
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage drivers",
	}

	var name, status string
	registerCmd := &cobra.Command{
		Use:   "register <agent-id>",
		Short: "Register a driver",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, http.MethodPost, "/v1/agents", map[string]string{
				"agent_id": args[0],
				"name":     name,
				"status":   status,
			})
		},
	}
	registerCmd.Flags().StringVar(&name, "name", "", "display name")
	registerCmd.Flags().StringVar(&status, "status", "online", "online, offline, busy or on_delivery")
	_ = registerCmd.MarkFlagRequired("name")

	statusCmd := &cobra.Command{
		Use:   "status <agent-id> <status>",
		Short: "Change a driver's presence",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, http.MethodPut, "/v1/agents/"+url.PathEscape(args[0])+"/status", map[string]string{
				"status": args[1],
			})
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <agent-id>",
		Short: "Deregister a driver and release its leases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, http.MethodDelete, "/v1/agents/"+url.PathEscape(args[0]), nil)
		},
	}

	agentCmd.AddCommand(registerCmd, statusCmd, removeCmd)
	return agentCmd
}

func adminCmd(run runFunc) *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator overrides",
	}

	adminCmd.AddCommand(
		&cobra.Command{
			Use:   "force-clear <order-id>",
			Short: "Release an order's lease and cool down every competing driver",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, http.MethodPost, "/admin/jobs/"+url.PathEscape(args[0])+"/force-clear", nil)
			},
		},
		&cobra.Command{
			Use:   "cancel-order <order-id>",
			Short: "Apply a cancellation made outside the dispatcher",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, http.MethodPost, "/admin/jobs/"+url.PathEscape(args[0])+"/external-cancel", nil)
			},
		},
		&cobra.Command{
			Use:   "reset-cooldown <agent-id>",
			Short: "Lift a driver's cooldown",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(cmd, http.MethodPost, "/admin/agents/"+url.PathEscape(args[0])+"/cooldown/reset", nil)
			},
		},
	)

	return adminCmd
}

func printJSON(out io.Writer, raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		_, err := fmt.Fprintln(out, "ok")
		return err
	}

	var indented bytes.Buffer
	if err := json.Indent(&indented, raw, "", "  "); err != nil {
		_, err = out.Write(raw)
		return err
	}

	_, err := fmt.Fprintln(out, indented.String())
	return err
}
