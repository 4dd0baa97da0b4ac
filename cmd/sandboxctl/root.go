package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
	"github.com/opengovern/sandbox-bridge/internal/config"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
	debug      bool
}

var rootCmd = &cobra.Command{
	Use:   "sandboxctl",
	Short: "Submit samples to malware sandboxes and collect their verdicts",
	Long: "sandboxctl drives the configured sandboxes (Cuckoo, FireEye AX, Falcon,\n" +
		"Joe Sandbox, VMRay, WildFire, Triage, OPSWAT) through one command set.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rootFlags.configPath, "config", "c", "sandboxctl.yaml", "Path to the sandbox configuration file")
	pf.BoolVar(&rootFlags.debug, "debug", false, "Log at debug level")

	rootCmd.AddCommand(availableCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.Version = version
}

// BuildLogger returns a development logger in debug mode and a JSON
// production logger otherwise. Logs go to stderr; stdout carries results.
func BuildLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "time"
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.Encoding = "json"
	}
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// loadBridge reads the configuration and builds every sandbox it names.
func loadBridge() (*sandboxbridge.SandboxBridge, *zap.Logger, error) {
	settings, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := BuildLogger(rootFlags.debug || settings.Debug)
	sdk, err := config.Build(settings, logger)
	if err != nil {
		return nil, nil, err
	}
	return sdk, logger, nil
}

// openSandbox resolves a configured sandbox by name.
func openSandbox(name string) (sandboxbridge.Sandbox, *zap.Logger, error) {
	sdk, logger, err := loadBridge()
	if err != nil {
		return nil, nil, err
	}
	sb, err := sdk.Sandbox(name)
	if err != nil {
		return nil, nil, err
	}
	return sb, logger, nil
}

// parseID accepts either the "backend:value" form printed by submit or a
// bare vendor identifier for sb. An id issued by another backend is refused.
func parseID(sb sandboxbridge.Sandbox, raw string) (sandboxbridge.SubmissionID, error) {
	if id, err := sandboxbridge.ParseSubmissionID(raw); err == nil {
		if err := id.Check(sb.Name()); err != nil {
			return sandboxbridge.SubmissionID{}, err
		}
		return id, nil
	}
	if raw == "" {
		return sandboxbridge.SubmissionID{}, fmt.Errorf("%w: empty identifier", sandboxbridge.ErrInvalidSubmissionID)
	}
	return sandboxbridge.NewSubmissionID(sb.Name(), raw), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
