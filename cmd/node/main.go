package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/minhtran241/edge-computing-models/internal/agent"
	"github.com/minhtran241/edge-computing-models/internal/config"
)

var overrides config.Overrides

var rootCmd = &cobra.Command{
	Use:   "node",
	Short: "Run one tier of the IoT, edge and cloud relay.",
	Long: `node runs an IoT client, an edge node or a cloud server. Settings come ` +
		`from the environment (and a .env file); flags override them.`,
	SilenceUsage: true,
}

var iotCmd = &cobra.Command{
	Use:   "iot [algorithm] [iterations]",
	Short: "Send the configured data set to every IOT_TARGETS address.",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		o := overrides
		if len(args) > 0 {
			o.Algorithm = args[0]
		}
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("%w: iterations must be a positive integer, got %q", config.ErrConfiguration, args[1])
			}
			o.Iterations = n
		}
		return run(cmd.Context(), config.RoleIoT, o)
	},
}

var edgeCmd = &cobra.Command{
	Use:   "edge [device-id]",
	Short: "Accept IoT sessions and process or forward their payloads.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), config.RoleEdge, withNodeID(args))
	},
}

var cloudCmd = &cobra.Command{
	Use:   "cloud [device-id]",
	Short: "Collect results and stats from edge nodes and IoT clients.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), config.RoleCloud, withNodeID(args))
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&overrides.NodeID, "node-id", "", "node id (NODE_ID)")
	flags.StringVar(&overrides.Architecture, "arch", "", "processing tier: IoT, Edge or Cloud (ROLE_ARCH)")
	flags.StringVar(&overrides.Algorithm, "algorithm", "", "algorithm code: SW, SA, OCR or YOLO (ALGORITHM)")
	flags.StringVar(&overrides.SizeTier, "size", "", "data size tier: small, medium or large (SIZE_TIER)")
	flags.IntVar(&overrides.Iterations, "iterations", 0, "payloads per target (ITERATIONS)")

	rootCmd.AddCommand(iotCmd, edgeCmd, cloudCmd)
}

func withNodeID(args []string) config.Overrides {
	o := overrides
	if len(args) > 0 {
		o.NodeID = args[0]
	}
	return o
}

func run(ctx context.Context, role config.Role, o config.Overrides) error {
	cfg, err := config.Load(role, o)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := agent.BuildLogger(cfg)
	a, err := agent.New(cfg, logger, os.Stdout)
	if err != nil {
		logger.Error("node initialization failed", "error", err)
		return err
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("node runtime failed", "error", err)
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
