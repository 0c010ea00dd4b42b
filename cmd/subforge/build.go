package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"subforge/internal/config"
	"subforge/internal/logger"
)

var (
	buildParams    map[string]string
	buildOutput    string
	buildNoPublish bool
)

var buildCmd = &cobra.Command{
	Use:   "build [publisher_names...]",
	Short: "Synthesize the sing-box config and publish it",
	Long: `Compile the active profile and routing settings into a sing-box config,
check it with the engine when available, write it to output.path and run
the configured publishers (or only the named ones). Use --param to override
publisher parameters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if len(args) > 0 {
			cfg.FilterPublishers(args)
		}
		if buildNoPublish {
			cfg.Output.Publishers = nil
		}
		if buildOutput != "" {
			cfg.Output.Path = buildOutput
		}
		applyParams(cfg.Output.Publishers, buildParams)

		a, err := openAppWith(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.svc.Build(cmd.Context())
		if err != nil {
			return err
		}
		logger.Log.Infof("✅ Built config with %d outbounds", len(out.Outbounds))
		return nil
	},
}

func applyParams(pubs []config.PublisherConfig, overrides map[string]string) {
	for i := range pubs {
		if pubs[i].Params == nil {
			pubs[i].Params = make(map[string]interface{})
		}
		for k, v := range overrides {
			if intVal, err := strconv.Atoi(v); err == nil {
				pubs[i].Params[k] = intVal
			} else {
				pubs[i].Params[k] = v
			}
		}
	}
}

func init() {
	buildCmd.Flags().StringToStringVarP(&buildParams, "param", "p", nil, "Override publisher params (e.g. -p format=links)")
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "Override output.path")
	buildCmd.Flags().BoolVar(&buildNoPublish, "no-publish", false, "Only write output.path")
	rootCmd.AddCommand(buildCmd)
}
