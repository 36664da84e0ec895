// Command facilitator drives stake and redeem transfers between an origin
// gateway and its auxiliary co-gateway.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/cobra"

	"github.com/sharding-experiment/facilitator/config"
)

const (
	configKey    = "config"
	verbosityKey = "verbosity"
	simulatedKey = "simulated"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Crit("Facilitator failed", "err", err)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "facilitator",
		Short:         "Moves value between an origin ledger and its auxiliary ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			verbosity, err := c.Flags().GetInt(verbosityKey)
			if err != nil {
				return err
			}
			setupLogging(verbosity)
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.String(configKey, "", "Path to the JSON config (default "+config.DefaultPath+" when present)")
	flags.Int(verbosityKey, 3, "Log level: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace")
	flags.Bool(simulatedKey, false, "Run against an in-memory ledger pair instead of configured nodes")

	root.AddCommand(
		serveCommand(),
		hashLockCommand(),
		statusCommand(),
	)
	root.AddCommand(operationCommands()...)
	return root
}

func setupLogging(verbosity int) {
	lvl := log.FromLegacyLevel(verbosity)
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
}

func loadConfig(c *cobra.Command) (*config.Config, error) {
	path, err := c.Flags().GetString(configKey)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return config.LoadDefault()
	}
	return config.Load(path)
}
