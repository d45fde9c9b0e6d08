package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/BioHazard786/Warpcall/internal/roomkey"
	"github.com/BioHazard786/Warpcall/internal/transport"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// PeerTable lists the peers a listener accepts calls from and the room each
// pair meets in.
func PeerTable(self string, peers []string) string {
	rows := make([][]string, 0, len(peers))
	for _, p := range peers {
		rows = append(rows, []string{p, roomkey.Key(self, p)})
	}

	t := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Muted)).
		Headers("PEER", "ROOM").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return t.Render()
}

// CallSummary renders the outcome of a call and what was received on each
// remote track.
func CallSummary(info call.SessionInfo, stats []transport.TrackStats) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Title.Align = text.AlignCenter
	tw.SetTitle("Call summary")

	result := info.State.String()
	if info.Reason != "" {
		result += " (" + info.Reason + ")"
	}

	tw.AppendRows([]table.Row{
		{"Peer", info.Peer},
		{"Role", info.Role.String()},
		{"Result", result},
		{"Duration", FormatDuration(info.Duration())},
	})
	if !info.StartedAt.IsZero() {
		tw.AppendRow(table.Row{"Started", info.StartedAt.Format(time.TimeOnly)})
	}
	if info.Error != "" {
		tw.AppendRow(table.Row{"Error", info.Error})
	}

	if len(stats) > 0 {
		tw.AppendSeparator()
		for _, s := range stats {
			tw.AppendRow(table.Row{
				kindLabel(s.Kind),
				fmt.Sprintf("%s  %d packets  %s  %d lost", s.Codec, s.Packets, formatBytes(s.Bytes), s.Lost),
			})
		}
	}

	return tw.Render()
}

func kindLabel(kind string) string {
	if kind == "" {
		return "Track"
	}
	return strings.ToUpper(kind[:1]) + kind[1:]
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
