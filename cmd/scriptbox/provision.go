package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/scriptbox/internal/sandbox"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Check the runtime image and create the cache volume",
	Long: `Create the shared cache volume if needed and verify the runtime image exists.

The image is never built or pulled; build it before running scripts.`,
	RunE: runProvision,
}

var olderThanFlag time.Duration

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Remove orphaned sandbox containers",
	Long: `Force-remove managed containers older than --older-than. These are left behind
only when a scriptbox process dies while a script is running.

The default age is the execution timeout plus the removal timeout.`,
	RunE: runReap,
}

func init() {
	reapCmd.Flags().DurationVar(&olderThanFlag, "older-than", 0, "Minimum container age to remove")
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(reapCmd)
}

func runProvision(cmd *cobra.Command, args []string) error {
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

	if err := sb.Provision(cmd.Context()); err != nil {
		return fmt.Errorf("%s: %w", sandbox.KindOf(err), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "image %s and volume %s ready\n", sb.Policy.Image, sb.Policy.CacheVolume)
	return nil
}

func runReap(cmd *cobra.Command, args []string) error {
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

	age := olderThanFlag
	if age <= 0 {
		age = orphanAge(sb.Policy)
	}

	n, err := sandbox.NewSweeper(rt, sb.Policy, log).Sweep(cmd.Context(), age)
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d container(s)\n", n)
	return err
}

// orphanAge is how long a container can live under normal operation.
func orphanAge(p sandbox.Policy) time.Duration {
	return p.Timeout + p.RemoveTimeout
}
