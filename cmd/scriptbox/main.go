package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/scriptbox/internal/config"
	"github.com/michaelbrown/scriptbox/internal/logging"
	"github.com/michaelbrown/scriptbox/internal/sandbox"
)

var (
	configFlag   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "scriptbox",
	Short: "scriptbox - run untrusted scripts in capped containers",
	Long: `scriptbox executes dynamically generated scripts inside a resource-capped
Docker container with a shared cache volume, and reports their output or a
classified failure. Containers are always removed, however a run ends.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (default ./scriptbox.yaml or $HOME/.scriptbox/scriptbox.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("configuring logging: %w", err)
	}
	return cfg, log, nil
}

// newSandbox connects to the daemon and builds the sandbox. The caller closes
// the returned runtime.
func newSandbox(cfg *config.Config, log *zap.Logger) (*sandbox.DockerSandbox, *sandbox.DockerRuntime, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, nil, err
	}
	rt, err := sandbox.NewDockerRuntime()
	if err != nil {
		return nil, nil, err
	}
	sb, err := sandbox.NewDockerSandbox(rt, policy, sandbox.WithLogger(log))
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return sb, rt, nil
}
