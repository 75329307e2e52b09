package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openclaw/companion/internal/config"
	"github.com/openclaw/companion/internal/events"
	"github.com/openclaw/companion/internal/gateway"
	"github.com/openclaw/companion/internal/pairing"
	"github.com/openclaw/companion/internal/protocol"
	"github.com/openclaw/companion/internal/sandbox"
	"github.com/openclaw/companion/internal/skills"
	"github.com/openclaw/companion/internal/sysapi"
	"github.com/openclaw/companion/internal/transport"
)

// RunCmd creates the run command, the same loop the bare root command
// starts.
func RunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the Gateway and serve skill requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompanion(cmd.Context())
		},
	}
}

// app holds the assembled runtime for one companion process.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	bus     *events.Bus
	client  *gateway.Client
	pairing *pairing.Manager
	runtime *skills.Runtime
	sandbox sandbox.Sandbox
}

// buildApp assembles the full runtime from config. The returned app is
// not yet connected.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	pm := pairing.NewManager(pairing.NewFileStore(cfg.DataDir), logger)
	if err := pm.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize device: %w", err)
	}
	device, err := pm.Device()
	if err != nil {
		return nil, err
	}

	token := cfg.Token
	if t := pm.Token(); t != "" {
		token = t
	}

	bus := events.NewBus(logger)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = device.ClientID
	}
	client := gateway.New(gateway.Options{
		URL:                  cfg.GatewayURL,
		Token:                token,
		ClientID:             clientID,
		ClientMode:           cfg.ClientMode,
		Platform:             device.Platform,
		ReconnectInterval:    cfg.ReconnectInterval(),
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.HeartbeatInterval(),
		RequestTimeout:       cfg.RequestTimeout(),
		Reconnect:            cfg.AutoReconnect,
	}, &transport.WebSocketDialer{Logger: logger}, bus, logger)

	sb := sandbox.Initialize(sandbox.Options{
		TimeoutMs:     cfg.Sandbox.TimeoutMs,
		MemoryLimitMB: cfg.Sandbox.MemoryLimitMB,
	}, logger)

	system := sysapi.NewLocal(filepath.Join(cfg.DataDir, "files"))
	runtime := skills.NewRuntime(system, terminalConfirm, sb, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		bus:     bus,
		client:  client,
		pairing: pm,
		runtime: runtime,
		sandbox: sb,
	}, nil
}

// runCompanion is the long-lived client loop: connect, serve events,
// shut down cleanly on SIGINT/SIGTERM.
func runCompanion(ctx context.Context) error {
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

	if !a.pairing.IsPaired() && cfg.Token == "" {
		logger.Warn("device is not paired; run 'companion pair <code>' first")
	}

	a.subscribe(ctx)

	if err := a.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	st := a.sandbox.Status()
	logger.Info("companion running",
		"gateway", cfg.GatewayURL,
		"sandbox", st.Engine,
		"isolated", st.Isolated,
		"skills", len(a.runtime.ListSkills()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	case <-ctx.Done():
	}

	a.client.Disconnect()
	return nil
}

// subscribe wires the gateway event topics to the skill runtime and
// the terminal.
func (a *app) subscribe(ctx context.Context) {
	events.Subscribe(a.bus, events.TopicSkillExecute,
		func(_ context.Context, req protocol.SkillExecuteRequest) error {
			go a.runtime.Dispatch(ctx, req, a.client)
			return nil
		})

	events.Subscribe(a.bus, events.TopicConfirm,
		func(cctx context.Context, req protocol.ConfirmRequestPayload) error {
			go func() {
				approved, err := terminalConfirm(cctx, req.Message)
				if err != nil {
					a.logger.Warn("confirm prompt failed", "error", err)
					approved = false
				}
				if _, err := a.client.Call(ctx, protocol.MethodConfirmResponse,
					protocol.ConfirmResponseParams{RequestID: req.RequestID, Approved: approved}); err != nil {
					a.logger.Warn("confirm response failed", "error", err)
				}
			}()
			return nil
		})

	events.Subscribe(a.bus, events.TopicEvent,
		func(_ context.Context, f protocol.Frame) error {
			if f.Method == protocol.EventSkillCancel {
				var p protocol.SkillCancelPayload
				if err := json.Unmarshal(f.Payload, &p); err != nil {
					return err
				}
				a.runtime.CancelExecution(p.RequestID)
				return nil
			}
			a.logger.Debug("gateway event", "method", f.Method)
			return nil
		})

	events.Subscribe(a.bus, events.TopicError,
		func(_ context.Context, err error) error {
			a.logger.Error("gateway error", "error", err)
			return nil
		})
}

var (
	stdinMu     sync.Mutex
	stdinReader = bufio.NewReader(os.Stdin)
)

// terminalConfirm asks y/n on the controlling terminal.
func terminalConfirm(_ context.Context, message string) (bool, error) {
	stdinMu.Lock()
	defer stdinMu.Unlock()
	fmt.Printf("%s [y/N]: ", message)
	line, err := stdinReader.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
