package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/companion/internal/pairing"
)

// PairCmd creates the pair command. With a code it does single
// round-trip code pairing; without one it files a pairing request and
// polls until the Gateway decides.
func PairCmd() *cobra.Command {
	var displayName string
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "pair [code]",
		Short: "Pair this device with the Gateway",
		Long: `Pair this device with an OpenClaw Gateway.

Examples:
  companion pair 123456        # pair with a code shown in the Gateway UI
  companion pair               # request pairing and wait for approval`,
		Args: cobra.MaximumNArgs(1),
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

			if displayName != "" {
				if err := a.pairing.SetDisplayName(displayName); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			if err := a.client.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer a.client.Disconnect()

			if len(args) == 1 {
				return pairWithCode(ctx, a, args[0])
			}
			return pairByRequest(ctx, a, wait)
		},
	}

	cmd.Flags().StringVar(&displayName, "name", "", "display name to register with the Gateway")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "how long to wait for approval")
	return cmd
}

func pairWithCode(ctx context.Context, a *app, code string) error {
	res, err := a.pairing.PairWithCode(ctx, code, a.cfg.GatewayURL, a.client)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("pairing failed: %s", res.Message)
	}
	fmt.Println("Device paired.")
	return nil
}

func pairByRequest(ctx context.Context, a *app, wait time.Duration) error {
	if err := a.pairing.RequestPairing(ctx, a.cfg.GatewayURL, a.client); err != nil {
		return err
	}
	fmt.Println("Pairing requested, waiting for approval...")

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		status, err := a.pairing.CheckPairingStatus(ctx, a.client)
		if err != nil {
			return err
		}
		switch status {
		case pairing.StatusPaired:
			fmt.Println("Device paired.")
			return nil
		case pairing.StatusUnpaired:
			return fmt.Errorf("pairing request was rejected")
		}
		select {
		case <-time.After(3 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("pairing not approved within %s", wait)
}
