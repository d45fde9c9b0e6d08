package cmd

import (
	"errors"
	"fmt"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/signaling"
	"github.com/BioHazard786/Warpcall/internal/ui"
	"github.com/spf13/cobra"
)

var callCmd = &cobra.Command{
	Use:     "call <peer>",
	Aliases: []string{"c"},
	Short:   "Call a peer",
	Long: `Place a call to a peer. The peer must be listening for you
("warpcall listen --as <peer> --peer <you>").

Examples:
  warpcall call bob --as alice
  warpcall call bob --as alice --video cam.ivf --audio mic.ogg
  warpcall call bob --as alice --domain relay.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return placeCall(cmd, args[0])
	},
}

func init() {
	addClientFlags(callCmd)
}

func placeCall(cmd *cobra.Command, peer string) error {
	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}
	warnRestrictedNetwork(cfg)

	sp := ui.NewConnectionSpinner(ui.IconConnect + " Connecting to server...")
	sp.Start()
	defer sp.Stop()
	sess, err := NewCallSession(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	sp.UpdateMessage(fmt.Sprintf("Opening media for %s...", peer))
	err = sess.Machine.StartCall(cmd.Context(), peer)
	sp.Stop()
	if err != nil {
		return err
	}

	info, err := sess.RunView(cmd.Context(), "calling "+peer, false)
	if err != nil {
		return err
	}
	sess.PrintSummary(info)

	switch {
	case info.State == call.StateFailed:
		return errors.New(info.Error)
	case info.Reason == signaling.ReasonDeclined:
		ui.PrintWarning(peer + " declined the call")
	case !info.ConnectedAt.IsZero():
		ui.PrintSuccess(fmt.Sprintf("Call with %s lasted %s", peer, ui.FormatDuration(info.Duration())))
	}
	return nil
}
