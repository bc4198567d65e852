package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/scriptbox/internal/sandbox"
	"github.com/michaelbrown/scriptbox/internal/workspace"
)

var (
	workspaceFlag string
	envFlags      []string
	fileFlags     []string
)

var runCmd = &cobra.Command{
	Use:   "run <script|->",
	Short: "Run a script in the sandbox",
	Long: `Run a script file (or stdin with "-") in the sandbox and print its stdout.

Without --workspace a fresh workspace is created and removed afterwards.

Examples:
  scriptbox run analysis.py
  scriptbox run analysis.py --file data.csv --env USER_TASK_JSON='{"task":"x"}'
  cat analysis.py | scriptbox run -`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&workspaceFlag, "workspace", "", "Existing workspace directory to use")
	runCmd.Flags().StringArrayVarP(&envFlags, "env", "e", nil, "Environment override KEY=VALUE (repeatable)")
	runCmd.Flags().StringArrayVarP(&fileFlags, "file", "f", nil, "Input file copied into the workspace (repeatable)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	script, err := readScript(cmd, args[0])
	if err != nil {
		return err
	}
	env, err := parseEnv(envFlags)
	if err != nil {
		return err
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	sb, rt, err := newSandbox(cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	dir := workspaceFlag
	if dir == "" {
		ws, err := workspace.Create(cfg.Server.WorkspaceRoot)
		if err != nil {
			return err
		}
		defer func() {
			if err := ws.Remove(); err != nil {
				log.Warn("removing workspace", zap.String("workspace", ws.Path), zap.Error(err))
			}
		}()
		if err := ws.CopyIn(fileFlags...); err != nil {
			return err
		}
		dir = ws.Path
	} else if len(fileFlags) > 0 {
		if err := (&workspace.Dir{Path: dir}).CopyIn(fileFlags...); err != nil {
			return err
		}
	}

	// Interrupts cancel the wait; the container is still removed.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := sb.Run(ctx, sandbox.Request{Script: script, Workspace: dir, Env: env})
	if err != nil {
		return fmt.Errorf("%s: %w", sandbox.KindOf(err), err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func readScript(cmd *cobra.Command, arg string) (string, error) {
	var data []byte
	var err error
	if arg == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	return string(data), nil
}

func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", pair)
		}
		env[key] = val
	}
	return env, nil
}
