package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/weftworks/weft/internal/events"
	"github.com/weftworks/weft/internal/projection"
)

// agentHealthWindow is how recently an agent must have heartbeat to
// count as healthy.
const agentHealthWindow = 2 * time.Minute

// newAgentCmd creates the "weft agent" command group.
func newAgentCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Register agents and track their liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(
		newAgentRegisterCmd(stdout, stderr),
		newAgentHeartbeatCmd(stdout, stderr),
		newAgentListCmd(stdout, stderr),
		newAgentUnregisterCmd(stdout, stderr),
	)
	return cmd
}

func newAgentRegisterCmd(stdout, stderr io.Writer) *cobra.Command {
	var caps []string
	cmd := &cobra.Command{
		Use:   "register <id>",
		Short: "Register an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doAgentRegister(args[0], caps, stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&caps, "capability", nil, "agent capability (can be repeated)")
	return cmd
}

func doAgentRegister(id string, caps []string, stdout, stderr io.Writer) int {
	eng, store, code := openWorkspaceEngine("weft agent register", stderr)
	if code != 0 {
		return code
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	if _, err := eng.RecordEvent(&events.AgentRegistered{AgentID: id, Capabilities: caps}); err != nil {
		fmt.Fprintf(stderr, "weft agent register: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Registered agent %s\n", id) //nolint:errcheck // best-effort stdout
	return 0
}

func newAgentHeartbeatCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <id>",
		Short: "Record an agent heartbeat",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doAgentHeartbeat(args[0], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doAgentHeartbeat(id string, stdout, stderr io.Writer) int {
	eng, store, code := openWorkspaceEngine("weft agent heartbeat", stderr)
	if code != 0 {
		return code
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	if _, err := eng.RecordEvent(&events.AgentHeartbeat{AgentID: id, At: time.Now().UTC()}); err != nil {
		fmt.Fprintf(stderr, "weft agent heartbeat: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Heartbeat recorded for %s\n", id) //nolint:errcheck // best-effort stdout
	return 0
}

func newAgentListCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agents and their health",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if doAgentList(stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doAgentList(stdout, stderr io.Writer) int {
	eng, store, code := openWorkspaceEngine("weft agent list", stderr)
	if code != 0 {
		return code
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	agents := projection.NewAgentHealth()
	records, err := eng.EventsSince(0)
	if err != nil {
		fmt.Fprintf(stderr, "weft agent list: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	for _, r := range records {
		agents.Apply(r.Event)
	}

	healthy := agents.Healthy(time.Now(), agentHealthWindow)
	sort.Strings(healthy)
	healthySet := make(map[string]bool, len(healthy))
	for _, a := range healthy {
		healthySet[a] = true
	}

	if len(agents.Registered) == 0 {
		fmt.Fprintln(stdout, "No agents registered.") //nolint:errcheck // best-effort stdout
		return 0
	}
	ids := make([]string, 0, len(agents.Registered))
	for id := range agents.Registered {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		health := "stale"
		if healthySet[id] {
			health = "healthy"
		}
		fmt.Fprintf(stdout, "%s  %s\n", id, health) //nolint:errcheck // best-effort stdout
	}
	return 0
}

func newAgentUnregisterCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <id>",
		Short: "Unregister an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if doAgentUnregister(args[0], stdout, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
}

func doAgentUnregister(id string, stdout, stderr io.Writer) int {
	eng, store, code := openWorkspaceEngine("weft agent unregister", stderr)
	if code != 0 {
		return code
	}
	defer store.Close() //nolint:errcheck // best-effort cleanup

	if _, err := eng.RecordEvent(&events.AgentUnregistered{AgentID: id}); err != nil {
		fmt.Fprintf(stderr, "weft agent unregister: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	fmt.Fprintf(stdout, "Unregistered agent %s\n", id) //nolint:errcheck // best-effort stdout
	return 0
}
