package cmd

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/spf13/cobra"
)

var flagPeers []string

var listenCmd = &cobra.Command{
	Use:     "listen",
	Aliases: []string{"l"},
	Short:   "Wait for calls from known peers",
	Long: `Wait for calls from the given peers. Incoming calls ring in the
terminal; press a to accept or d to deny.

Examples:
  warpcall listen --as bob --peer alice
  warpcall listen --as bob --peer alice --peer carol --video cam.ivf`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listen(cmd)
	},
}

func init() {
	addClientFlags(listenCmd)
	listenCmd.Flags().StringSliceVarP(&flagPeers, "peer", "p", nil, "peer allowed to call you (repeatable)")
}

func listen(cmd *cobra.Command) error {
	if len(flagPeers) == 0 {
		return errors.New("no peers: pass --peer at least once")
	}

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	warnRestrictedNetwork(cfg)

	stopSpinner := ui.RunConnectionSpinner(ui.IconConnect + " Connecting to server...")
	defer stopSpinner()
	sess, err := NewCallSession(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer sess.Close()
	stopSpinner()

	for _, p := range flagPeers {
		if err := sess.Machine.Watch(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}

	ui.PrintInfof("%s Listening as %s for %d peer(s)", ui.IconWaiting, cfg.Identity, len(flagPeers))
	fmt.Println(ui.PeerTable(cfg.Identity, flagPeers))

	info, err := sess.RunView(cmd.Context(), "listening as "+cfg.Identity, true)
	if err != nil {
		return err
	}
	sess.PrintSummary(info)
	return nil
}
