package cmd

import (
	"log/slog"

	"github.com/BioHazard786/Warpcall/internal/config"
	"github.com/BioHazard786/Warpcall/internal/logging"
	"github.com/BioHazard786/Warpcall/internal/relay"
	"github.com/spf13/cobra"
)

var (
	flagAddr    string
	flagOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay. Clients join rooms over /ws and the relay
forwards every signal to the other member of the room. /health and
/metrics are served alongside.

Examples:
  warpcall serve
  warpcall serve --addr :9000 --origin https://call.example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.InitLevel(slog.LevelInfo)

		cfg, err := LoadConfig(config.Options{
			ConfigFile: flagConfig,
			Addr:       flagAddr,
			Origins:    flagOrigins,
		})
		if err != nil {
			return err
		}

		return relay.NewServer(cfg.RelayConfig(), slog.Default()).Run(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (default \":8080\", or WARPCALL_ADDR)")
	serveCmd.Flags().StringSliceVar(&flagOrigins, "origin", nil, "allowed browser origins (repeatable)")
}
