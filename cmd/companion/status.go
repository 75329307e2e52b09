package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openclaw/companion/internal/pairing"
)

// StatusCmd creates the status command. It reads local state only;
// --verify additionally asks the Gateway whether the token still
// holds.
func StatusCmd() *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show device identity and pairing status",
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

			device, err := a.pairing.Device()
			if err != nil {
				return err
			}

			fmt.Printf("Device ID:    %s\n", device.DeviceID)
			fmt.Printf("Display name: %s\n", device.DisplayName)
			fmt.Printf("Platform:     %s\n", device.Platform)
			fmt.Printf("Status:       %s\n", a.pairing.Status())
			if url := a.pairing.GatewayURL(); url != "" {
				fmt.Printf("Gateway:      %s\n", url)
			}
			sb := a.sandbox.Status()
			fmt.Printf("Sandbox:      %s (isolated=%v)\n", sb.Engine, sb.Isolated)

			if verify && a.pairing.Status() == pairing.StatusPaired {
				ctx := cmd.Context()
				if err := a.client.Connect(ctx); err != nil {
					return fmt.Errorf("connect: %w", err)
				}
				defer a.client.Disconnect()
				valid, err := a.pairing.VerifyToken(ctx, a.client)
				if err != nil {
					return err
				}
				fmt.Printf("Token valid:  %v\n", valid)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", false, "verify the pairing token with the Gateway")
	return cmd
}
