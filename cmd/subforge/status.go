package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"subforge/internal/logger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine, profile and history statistics",
	Long:  `Displays a dashboard of the engine, the saved profiles, the document cache and the active profile's protocols and regions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.svc.Status()
		nodes, err := a.svc.Nodes("")
		if err != nil {
			logger.Log.Warnf("Active profile unavailable: %v", err)
		}

		protoCounts := make(map[string]int)
		regionCounts := make(map[string]int)
		tested := 0
		for _, n := range nodes {
			protoCounts[n.Protocol]++
			if n.RegionTag != "" {
				regionCounts[n.RegionTag]++
			}
			if n.LatencyMs != nil {
				tested++
			}
		}

		histPath := a.cfg.HistoryDB()
		dbSize := getFileSize(histPath)
		walSize := getFileSize(histPath + "-wal")

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

		fmt.Println("\n📊 \033[1mSUBFORGE STATUS\033[0m")
		fmt.Println("────────────────────────────────────────")

		fmt.Fprintln(w, "\033[1;36m[ SYSTEM ]\033[0m\t")
		engine := "not found"
		if st.Engine.Available {
			engine = "sing-box " + st.Engine.Version
		}
		fmt.Fprintf(w, "  Engine:\t%s\n", engine)
		fmt.Fprintf(w, "  Data Dir:\t%s\n", a.cfg.Data.Dir)
		fmt.Fprintf(w, "  History DB:\t%s (%s)\n", histPath, formatBytes(dbSize))
		if walSize > 0 {
			fmt.Fprintf(w, "  WAL Size:\t%s (pending checkpoint)\n", formatBytes(walSize))
		}
		fmt.Fprintf(w, "  Output:\t%s\n", a.cfg.Output.Path)
		fmt.Fprintln(w, "\t")

		fmt.Fprintln(w, "\033[1;36m[ PROFILES ]\033[0m\t")
		if len(st.Profiles) == 0 {
			fmt.Fprintln(w, "  (No profiles saved)")
		}
		for _, p := range st.Profiles {
			mark := " "
			if p.ID == st.ActiveProfileID {
				mark = "*"
			}
			state := string(p.UpdateStatus)
			if !p.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(w, " %s %s:\t%s\n", mark, p.Name, state)
		}
		fmt.Fprintf(w, "  Cached documents:\t%d\n", len(st.Cached))
		fmt.Fprintln(w, "\t")

		fmt.Fprintln(w, "\033[1;36m[ ACTIVE PROFILE ]\033[0m\t")
		fmt.Fprintf(w, "  Nodes:\t%d (%d with latency)\n", len(nodes), tested)
		for _, p := range sortedKeys(protoCounts) {
			fmt.Fprintf(w, "  %s:\t%d\n", p, protoCounts[p])
		}
		fmt.Fprintln(w, "\t")

		fmt.Fprintln(w, "\033[1;36m[ TOP REGIONS ]\033[0m\t")
		regions := sortedKeys(regionCounts)
		sort.SliceStable(regions, func(i, j int) bool { return regionCounts[regions[i]] > regionCounts[regions[j]] })
		if len(regions) > 5 {
			regions = regions[:5]
		}
		for _, r := range regions {
			fmt.Fprintf(w, "  %s:\t%d\n", r, regionCounts[r])
		}

		w.Flush()
		fmt.Println("")
		return nil
	},
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func getFileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
