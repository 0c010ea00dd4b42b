package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"subforge/internal/model"
)

var flagISP bool

var nodesCmd = &cobra.Command{
	Use:   "nodes [profile_id]",
	Short: "List the proxies of a profile (default: the active one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		profileID := ""
		if len(args) > 0 {
			profileID = args[0]
		}
		nodes, err := a.svc.Nodes(profileID)
		if err != nil {
			return err
		}
		activeNode := a.svc.Status().ActiveNodeID

		var servers map[string]string
		if flagISP {
			servers = a.svc.NodeServers(profileID)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		header := "\tID\tNAME\tPROTOCOL\tGROUP\tLATENCY"
		if flagISP {
			header += "\tISP"
		}
		fmt.Fprintln(w, header)
		for _, n := range nodes {
			mark := ""
			if n.ID == activeNode {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s", mark, n.ID, n.DisplayName(), n.Protocol, n.Group, formatLatency(n))
			if flagISP {
				isp := ""
				if res, err := a.geo.Lookup(servers[n.ID]); err == nil {
					isp = res.ISP
				}
				fmt.Fprintf(w, "\t%s", isp)
			}
			fmt.Fprintln(w)
		}
		return w.Flush()
	},
}

func formatLatency(n model.ProxyNode) string {
	switch {
	case n.LatencyMs == nil:
		return "-"
	case *n.LatencyMs < 0:
		return "timeout"
	default:
		return fmt.Sprintf("%d ms", *n.LatencyMs)
	}
}

var selectCmd = &cobra.Command{
	Use:   "select <node_id>",
	Short: "Make a node the default of the PROXY selector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.svc.SelectNode(args[0])
	},
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Edit nodes inside a profile",
}

var nodeRenameCmd = &cobra.Command{
	Use:   "rename <profile_id> <node_id> <name>",
	Short: "Rename a node and the group references to it",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		id, err := a.svc.RenameNode(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var nodeDeleteCmd = &cobra.Command{
	Use:   "delete <profile_id> <node_id>",
	Short: "Remove a node from its profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.svc.DeleteNode(args[0], args[1])
	},
}

func init() {
	nodesCmd.Flags().BoolVar(&flagISP, "isp", false, "Show the ISP of each server (needs geoip.asn_path)")
	nodeCmd.AddCommand(nodeRenameCmd, nodeDeleteCmd)
	rootCmd.AddCommand(nodesCmd, selectCmd, nodeCmd)
}
