package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"subforge/internal/logger"
	"subforge/internal/model"
)

var importName string

var importCmd = &cobra.Command{
	Use:   "import <url|file|->",
	Short: "Add a subscription URL, a local file or pasted content as a profile",
	Long: `Import a profile. URLs are fetched and can be refreshed with "update".
Local files are re-read on update. "-" reads links, Clash YAML or sing-box
JSON from stdin and stores it as a static profile.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		src := args[0]
		var p model.Profile
		switch {
		case src == "-":
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			p, err = a.svc.ImportContent(importName, string(data))
			if err != nil {
				return err
			}
		case strings.Contains(src, "://"):
			p, err = a.svc.ImportURL(cmd.Context(), importName, src)
		default:
			p, err = a.svc.ImportFile(cmd.Context(), importName, src)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", p.ID, p.Name)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [profile_ids...]",
	Short: "Refresh profiles from their source",
	Long:  `Refresh the given profiles, or every enabled profile with a source when none are named.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 0 {
			return a.svc.UpdateAll(cmd.Context())
		}
		for _, id := range args {
			p, err := a.svc.Update(cmd.Context(), id)
			if err != nil {
				logger.Log.Errorf("❌ %s: %v", id, err)
				continue
			}
			logger.Log.Infof("✅ %s updated", p.Name)
		}
		return nil
	},
}

var profilesCmd = &cobra.Command{
	Use:     "profiles",
	Aliases: []string{"ls"},
	Short:   "List saved profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		st := a.svc.Status()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\tID\tNAME\tTYPE\tENABLED\tUPDATED\tSTATUS")
		for _, p := range st.Profiles {
			mark := ""
			if p.ID == st.ActiveProfileID {
				mark = "*"
			}
			status := string(p.UpdateStatus)
			if p.LastError != "" {
				status += ": " + p.LastError
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\t%s\n", mark, p.ID, p.Name, p.Type, p.Enabled,
				p.LastUpdated.Format("2006-01-02 15:04"), status)
		}
		return w.Flush()
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <profile_id>",
	Short: "Remove a profile and its probe history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.svc.Delete(args[0])
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <profile_id> <name>",
	Short: "Rename a profile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		_, err = a.svc.Rename(args[0], args[1])
		return err
	},
}

func enableCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <profile_id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()
			_, err = a.svc.SetEnabled(args[0], enabled)
			return err
		},
	}
}

var useCmd = &cobra.Command{
	Use:   "use <profile_id>",
	Short: "Make a profile the active one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return a.svc.Activate(args[0])
	},
}

func init() {
	importCmd.Flags().StringVarP(&importName, "name", "n", "", "Profile name (default derived from the source)")
	rootCmd.AddCommand(importCmd, updateCmd, profilesCmd, deleteCmd, renameCmd,
		enableCmd("enable", true), enableCmd("disable", false), useCmd)
}
