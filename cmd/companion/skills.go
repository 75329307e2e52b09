package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// SkillsCmd creates the skills command.
func SkillsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "List the skills this device can execute",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.sandbox.Dispose()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tVERSION\tCONFIRM")
			for _, def := range a.runtime.ListSkills() {
				confirm := ""
				if def.Permissions != nil && def.Permissions.RequireConfirm {
					confirm = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.ID, def.Name, def.Version, confirm)
			}
			return w.Flush()
		},
	}
}
