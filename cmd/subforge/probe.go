package main

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"subforge/internal/logger"
	"subforge/internal/metrics"
	"subforge/internal/tester"
)

var (
	flagReport bool
	flagClear  bool
)

var probeCmd = &cobra.Command{
	Use:   "probe [node_ids...]",
	Short: "Measure node latency through sing-box",
	Long: `Probe the given nodes, or every node of the active profile, through one
short lived sing-box instance. Results are kept in the history database and
shown by "nodes". Use --report for timeout and retry recommendations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ids := args
		if len(ids) == 0 {
			nodes, err := a.svc.Nodes("")
			if err != nil {
				return err
			}
			for _, n := range nodes {
				ids = append(ids, n.ID)
			}
		}
		if flagClear {
			return a.svc.ClearLatency(ids)
		}
		if len(ids) == 0 {
			logger.Log.Warn("No nodes to probe.")
			return nil
		}

		bar := progressbar.NewOptions(len(ids),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(15),
			progressbar.OptionSetDescription("[cyan]Probing...[reset]"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)

		mc := metrics.New()
		alive := 0
		var results []tester.Result
		err = a.svc.ProbeNodes(cmd.Context(), ids, mc, func(r tester.Result) {
			results = append(results, r)
			if r.Err == nil {
				alive++
				bar.Describe(fmt.Sprintf("[cyan]Alive: %d[reset]", alive))
			}
			bar.Add(1)
		})
		bar.Finish()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}

		for _, r := range results {
			if r.Err != nil {
				fmt.Printf("%s\tfailed\t%s\n", r.NodeID, metrics.Classify(r.Err))
			} else {
				fmt.Printf("%s\t%d ms\n", r.NodeID, r.LatencyMs)
			}
		}
		logger.Log.Infof("✅ Probe complete. Reachable: %d/%d", alive, len(ids))
		if flagReport {
			mc.PrintReport(os.Stdout, a.cfg.Probe.Timeout, a.cfg.Probe.Retries)
		}
		return nil
	},
}

func init() {
	probeCmd.Flags().BoolVar(&flagReport, "report", false, "Print latency and error statistics")
	probeCmd.Flags().BoolVar(&flagClear, "clear", false, "Forget stored latency instead of probing")
	rootCmd.AddCommand(probeCmd)
}
