package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/Warpcall/internal/call"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Controller is the part of the call machine the view drives.
type Controller interface {
	AcceptCall(ctx context.Context) error
	DenyCall() error
	EndCall() error
	ToggleLocalVideo(enabled bool) error
	ToggleLocalAudio(enabled bool) error
}

type sessionMsg call.SessionInfo

type updatesClosedMsg struct{}

type actionErrMsg struct{ err error }

type clockMsg time.Time

// CallModel renders one call, or a stream of calls when Persistent is set,
// from the machine's update channel.
type CallModel struct {
	title      string
	ctrl       Controller
	updates    <-chan call.SessionInfo
	persistent bool

	info     call.SessionInfo
	last     call.SessionInfo
	err      error
	spinner  spinner.Model
	width    int
	quitting bool
	now      func() time.Time
}

// NewCallModel builds the view. A persistent model keeps running after a call
// ends and waits for the next one.
func NewCallModel(title string, ctrl Controller, updates <-chan call.SessionInfo, initial call.SessionInfo, persistent bool) *CallModel {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = SpinnerStyle

	return &CallModel{
		title:      title,
		ctrl:       ctrl,
		updates:    updates,
		persistent: persistent,
		info:       initial,
		spinner:    s,
		now:        time.Now,
	}
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdate(), tick())
}

func (m *CallModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		info, ok := <-m.updates
		if !ok {
			return updatesClosedMsg{}
		}
		return sessionMsg(info)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return clockMsg(t) })
}

func (m *CallModel) do(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return actionErrMsg{err}
		}
		return nil
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case sessionMsg:
		m.info = call.SessionInfo(msg)
		m.err = nil
		if m.info.State.Terminal() || m.info.Reason != "" {
			m.last = m.info
		}
		if m.info.State.Terminal() && !m.persistent {
			m.quitting = true
			return m, tea.Quit
		}
		return m, m.waitForUpdate()

	case updatesClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case actionErrMsg:
		m.err = msg.err
		return m, nil

	case clockMsg:
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *CallModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	state := m.info.State
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "a":
		if state == call.StateRinging {
			return m, m.do(func() error { return m.ctrl.AcceptCall(context.Background()) })
		}
	case "d":
		if state == call.StateRinging {
			return m, m.do(m.ctrl.DenyCall)
		}
	case "v":
		if state.Active() {
			enabled := !m.info.Video
			return m, m.do(func() error { return m.ctrl.ToggleLocalVideo(enabled) })
		}
	case "m":
		if state.Active() {
			enabled := !m.info.Audio
			return m, m.do(func() error { return m.ctrl.ToggleLocalAudio(enabled) })
		}
	case "h":
		if state.Active() {
			return m, m.do(m.ctrl.EndCall)
		}
	}
	return m, nil
}

// Info is the last session snapshot the view received.
func (m *CallModel) Info() call.SessionInfo {
	return m.info
}

func (m *CallModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s Warpcall - %s", IconCall, m.title)))
	b.WriteString("\n")

	switch m.info.State {
	case call.StateIdle:
		if m.last.Reason != "" && m.last.Peer != "" {
			b.WriteString(MutedStyle.Render(fmt.Sprintf("Last call with %s: %s", m.last.Peer, m.last.Reason)))
			b.WriteString("\n\n")
		}
		b.WriteString(fmt.Sprintf("%s Waiting for calls...", m.spinner.View()))
	case call.StateCalling:
		b.WriteString(fmt.Sprintf("%s Calling %s...", m.spinner.View(), PeerStyle.Render(m.info.Peer)))
		b.WriteString("\n")
		b.WriteString(m.mediaLine())
	case call.StateRinging:
		b.WriteString(IncomingBoxStyle.Render(fmt.Sprintf("%s Incoming call from %s", IconIncoming, PeerStyle.Render(m.info.Peer))))
	case call.StateConnected:
		b.WriteString(m.connectedView())
	case call.StateEnded:
		b.WriteString(fmt.Sprintf("%s Call ended (%s)", IconHangup, m.info.Reason))
	case call.StateFailed:
		b.WriteString(ErrorBoxStyle.Render(fmt.Sprintf("%s Call failed: %s", IconError, m.info.Error)))
	}
	if m.persistent && m.info.State.Terminal() {
		b.WriteString(fmt.Sprintf("\n\n%s Waiting for calls...", m.spinner.View()))
	}

	if m.err != nil {
		b.WriteString("\n\n")
		b.WriteString(ErrorStyle.Render(FormatError(m.err)))
	}

	b.WriteString("\n")
	b.WriteString(FooterStyle.Render(m.keyHelp()))
	return ContainerStyle.Render(b.String())
}

func (m *CallModel) connectedView() string {
	since := m.info.ConnectedAt
	elapsed := time.Duration(0)
	if !since.IsZero() {
		elapsed = m.now().Sub(since)
	}

	link := WarningStyle.Render("negotiating")
	if m.info.Linked {
		link = SuccessStyle.Render("linked")
	}

	remoteVideo, remoteAudio := IconVideoOff+" camera off", IconMuted+" muted"
	if m.info.RemoteVideo {
		remoteVideo = IconVideo + " camera on"
	}
	if m.info.RemoteAudio {
		remoteAudio = IconMic + " speaking"
	}

	lines := []string{
		fmt.Sprintf("%s In call with %s  %s", IconPeer, PeerStyle.Render(m.info.Peer), link),
		fmt.Sprintf("%s %s", IconTime, FormatDuration(elapsed)),
		"",
		BoldStyle.Render("You:  ") + m.mediaLine(),
		BoldStyle.Render("Peer: ") + remoteVideo + "  " + remoteAudio,
	}
	return CallBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *CallModel) mediaLine() string {
	video, audio := IconVideoOff+" camera off", IconMuted+" muted"
	if m.info.Video {
		video = IconVideo + " camera on"
	}
	if m.info.Audio {
		audio = IconMic + " mic on"
	}
	return video + "  " + audio
}

func (m *CallModel) keyHelp() string {
	key := func(k, label string) string { return KeyStyle.Render("["+k+"]") + " " + label }
	var keys []string
	switch m.info.State {
	case call.StateRinging:
		keys = append(keys, key("a", "accept"), key("d", "deny"))
	case call.StateCalling, call.StateConnected:
		keys = append(keys, key("v", "video"), key("m", "mute"), key("h", "hang up"))
	}
	keys = append(keys, key("q", "quit"))
	return strings.Join(keys, "  ")
}

// RunCall runs the call view until the call ends or the user quits, and
// returns the last snapshot it saw.
func RunCall(model *CallModel) (call.SessionInfo, error) {
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return call.SessionInfo{}, err
	}
	return final.(*CallModel).Info(), nil
}

// FormatDuration renders d as mm:ss, or h:mm:ss past an hour.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, mins, secs)
	}
	return fmt.Sprintf("%02d:%02d", mins, secs)
}

// FormatError renders an error for display, without the wrapping prefixes
// callers do not care about.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s %v", IconError, err)
}
