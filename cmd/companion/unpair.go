package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// UnpairCmd creates the unpair command. It only clears local state;
// the Gateway learns about it the next time the token fails.
func UnpairCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "unpair",
		Short: "Forget the pairing token for this device",
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

			if reset {
				if err := a.pairing.ResetDevice(); err != nil {
					return err
				}
				fmt.Println("Device identity reset.")
				return nil
			}
			if err := a.pairing.Unpair(); err != nil {
				return err
			}
			fmt.Println("Device unpaired.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "also discard the device identity")
	return cmd
}
