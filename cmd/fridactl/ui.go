package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	frida "github.com/wippyai/frida-go"
	"github.com/wippyai/frida-go/bridge"
	"github.com/wippyai/frida-go/errors"
)

const maxLogLines = 8

type uiView int

const (
	viewDevices uiView = iota
	viewProcesses
	viewSession
)

type inputMode int

const (
	inputNone inputMode = iota
	inputSpawn
	inputScript
)

type loadedScript struct {
	script *frida.Script
	name   string
}

type uiModel struct {
	err       error
	inv       *inventory
	device    *frida.Device
	session   *frida.Session
	events    chan tea.Msg
	styles    styles
	status    string
	sessionID string
	procs     []frida.Process
	scripts   []loadedScript
	log       []string
	input     textinput.Model
	selected  int
	pid       uint32
	view      uiView
	mode      inputMode
}

type processesMsg struct {
	err   error
	procs []frida.Process
}

type attachedMsg struct {
	err     error
	session *frida.Session
	id      string
	pid     uint32
}

type scriptMsg struct {
	err    error
	script *frida.Script
	name   string
}

type detachMsg struct {
	err error
}

type opMsg struct {
	err    error
	status string
}

type eventMsg string

type sessionDetachedMsg struct {
	session *frida.Session
	id      string
}

type scriptDestroyedMsg struct {
	script *frida.Script
	name   string
}

func newUICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Browse devices, processes and sessions interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inv, err := a.connect()
			if err != nil {
				return err
			}
			m := newUIModel(inv, a.styles)
			defer m.shutdown()

			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithOutput(cmd.OutOrStdout()))
			_, err = p.Run()
			return err
		},
	}
}

func newUIModel(inv *inventory, st styles) *uiModel {
	m := &uiModel{
		inv:    inv,
		styles: st,
		events: make(chan tea.Msg, 64),
	}

	inv.mgr.Changed.Subscribe(func(*frida.Manager, bridge.EventArgs) {
		m.post(eventMsg("devices changed"))
	})
	for _, d := range inv.devices {
		name, _ := d.Name()
		d.Lost.Subscribe(func(*frida.Device, bridge.EventArgs) {
			m.post(eventMsg("device lost: " + name))
		})
	}
	return m
}

// post queues a message from an event handler. Handlers run on the wrappers'
// target context, which post never blocks.
func (m *uiModel) post(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
	}
}

func (m *uiModel) waitEvent() tea.Msg {
	return <-m.events
}

func (m *uiModel) Init() tea.Cmd {
	return m.waitEvent
}

func (m *uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		return m.updateKey(msg)

	case processesMsg:
		m.err = msg.err
		if msg.err == nil {
			m.procs = msg.procs
			m.view = viewProcesses
			m.selected = min(m.selected, max(len(m.procs)-1, 0))
		}

	case attachedMsg:
		m.err = msg.err
		if msg.err != nil {
			return m, nil
		}
		m.session, m.sessionID, m.pid = msg.session, msg.id, msg.pid
		s, id := msg.session, msg.id
		s.Detached.Subscribe(func(*frida.Session, bridge.EventArgs) {
			m.post(sessionDetachedMsg{session: s, id: id})
		})
		m.scripts = nil
		m.selected = 0
		m.view = viewSession
		m.status = fmt.Sprintf("attached to pid %d", msg.pid)

	case scriptMsg:
		m.err = msg.err
		if msg.err != nil {
			return m, nil
		}
		sc, name := msg.script, msg.name
		sc.Destroyed.Subscribe(func(*frida.Script, bridge.EventArgs) {
			m.post(scriptDestroyedMsg{script: sc, name: name})
		})
		m.scripts = append(m.scripts, loadedScript{script: msg.script, name: name})
		m.status = "loaded " + name

	case detachMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = "detaching"
		}

	case sessionDetachedMsg:
		m.appendLog(fmt.Sprintf("session %s detached", msg.id))
		if msg.session != m.session {
			return m, m.waitEvent
		}
		m.closeSession()
		m.status = fmt.Sprintf("detached from pid %d", m.pid)
		return m, tea.Batch(m.waitEvent, loadProcesses(m.device))

	case scriptDestroyedMsg:
		m.appendLog(fmt.Sprintf("script %s destroyed", msg.name))
		for i, ls := range m.scripts {
			if ls.script == msg.script {
				m.scripts = append(m.scripts[:i], m.scripts[i+1:]...)
				m.selected = min(m.selected, max(len(m.scripts)-1, 0))
				break
			}
		}
		_ = msg.script.Close()
		return m, m.waitEvent

	case opMsg:
		m.err = msg.err
		if msg.err != nil {
			return m, nil
		}
		m.status = msg.status
		if m.view == viewProcesses {
			return m, loadProcesses(m.device)
		}

	case eventMsg:
		m.appendLog(string(msg))
		return m, m.waitEvent
	}

	return m, nil
}

func (m *uiModel) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

func (m *uiModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.shutdown()
		return m, tea.Quit

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.selected < m.listLen()-1 {
			m.selected++
		}

	case "enter":
		switch m.view {
		case viewDevices:
			if len(m.inv.devices) == 0 {
				return m, nil
			}
			m.device = m.inv.devices[m.selected]
			m.selected = 0
			m.err = nil
			return m, loadProcesses(m.device)
		case viewProcesses:
			if len(m.procs) == 0 {
				return m, nil
			}
			m.err = nil
			return m, attach(m.device, m.procs[m.selected].PID)
		}

	case "r":
		if m.view == viewProcesses {
			return m, loadProcesses(m.device)
		}

	case "s":
		if m.view == viewProcesses {
			m.startInput(inputSpawn, "program", "/bin/cat")
		}

	case "x":
		if m.view == viewProcesses && len(m.procs) > 0 {
			return m, kill(m.device, m.procs[m.selected].PID)
		}

	case "l":
		if m.view == viewSession {
			m.startInput(inputScript, "script", "agent.wasm")
		}

	case "u":
		if m.view == viewSession && len(m.scripts) > 0 {
			return m, unloadScript(m.scripts[m.selected])
		}

	case "d":
		if m.view == viewSession {
			return m, detach(m.session)
		}

	case "esc":
		m.err = nil
		switch m.view {
		case viewSession:
			m.closeSession()
			m.view = viewProcesses
			m.selected = 0
		case viewProcesses:
			m.device = nil
			m.procs = nil
			m.view = viewDevices
			m.selected = 0
		}
	}

	return m, nil
}

func (m *uiModel) startInput(mode inputMode, prompt, placeholder string) {
	ti := textinput.New()
	ti.Prompt = prompt + ": "
	ti.Placeholder = placeholder
	ti.Width = 40
	ti.Focus()
	m.input = ti
	m.mode = mode
}

func (m *uiModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = inputNone
		return m, nil

	case "enter":
		value := strings.TrimSpace(m.input.Value())
		mode := m.mode
		m.mode = inputNone
		if value == "" {
			return m, nil
		}
		m.err = nil
		if mode == inputSpawn {
			return m, spawn(m.device, value)
		}
		return m, loadScript(m.session, value)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *uiModel) listLen() int {
	switch m.view {
	case viewDevices:
		return len(m.inv.devices)
	case viewProcesses:
		return len(m.procs)
	}
	return len(m.scripts)
}

func (m *uiModel) closeSession() {
	for _, ls := range m.scripts {
		_ = ls.script.Close()
	}
	m.scripts = nil
	if m.session != nil {
		_ = m.session.Close()
		m.session = nil
	}
	m.view = viewProcesses
	m.selected = 0
}

// shutdown closes everything the UI opened. Safe to call more than once.
func (m *uiModel) shutdown() {
	m.closeSession()
	if m.inv != nil {
		m.inv.Close()
		m.inv = nil
	}
}

func loadProcesses(d *frida.Device) tea.Cmd {
	return func() tea.Msg {
		procs, err := d.EnumerateProcesses()
		return processesMsg{procs: procs, err: err}
	}
}

func attach(d *frida.Device, pid uint32) tea.Cmd {
	return func() tea.Msg {
		s, err := d.Attach(pid)
		if err != nil {
			return attachedMsg{err: err}
		}
		id, err := s.ID()
		if err != nil {
			_ = s.Close()
			return attachedMsg{err: err}
		}
		return attachedMsg{session: s, id: id, pid: pid}
	}
}

func spawn(d *frida.Device, program string) tea.Cmd {
	return func() tea.Msg {
		pid, err := d.Spawn(program, []string{program}, nil)
		if err != nil {
			return opMsg{err: err}
		}
		return opMsg{status: fmt.Sprintf("spawned %s (pid %d)", program, pid)}
	}
}

func kill(d *frida.Device, pid uint32) tea.Cmd {
	return func() tea.Msg {
		if err := d.Kill(pid); err != nil {
			return opMsg{err: err}
		}
		return opMsg{status: fmt.Sprintf("killed pid %d", pid)}
	}
}

func loadScript(s *frida.Session, path string) tea.Cmd {
	return func() tea.Msg {
		source, err := os.ReadFile(path)
		if err != nil {
			return scriptMsg{err: errors.Wrap(errors.PhaseScript, errors.KindInvalidInput, err, "read script")}
		}
		name := filepath.Base(path)
		sc, err := s.CreateScript(name, string(source))
		if err != nil {
			return scriptMsg{err: err}
		}
		if err := sc.Load(); err != nil {
			_ = sc.Close()
			return scriptMsg{err: err}
		}
		return scriptMsg{script: sc, name: name}
	}
}

func unloadScript(ls loadedScript) tea.Cmd {
	return func() tea.Msg {
		if err := ls.script.Unload(); err != nil {
			return opMsg{err: err}
		}
		return opMsg{status: "unloaded " + ls.name}
	}
}

func detach(s *frida.Session) tea.Cmd {
	return func() tea.Msg {
		return detachMsg{err: s.Detach()}
	}
}

func (m *uiModel) View() string {
	if m.inv == nil {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.styles.title.Render("fridactl"))
	b.WriteString(" ")
	b.WriteString(m.breadcrumb())
	b.WriteString("\n\n")

	switch m.view {
	case viewDevices:
		b.WriteString("Select a device:\n\n")
		for i, d := range m.inv.devices {
			m.writeItem(&b, i, d.String())
		}
	case viewProcesses:
		b.WriteString("Select a process to attach to:\n\n")
		for i, p := range m.procs {
			m.writeItem(&b, i, fmt.Sprintf("%6d  %s", p.PID, p.Name))
		}
	case viewSession:
		fmt.Fprintf(&b, "Session %s on pid %d\n\n", m.styles.id.Render(m.sessionID), m.pid)
		if len(m.scripts) == 0 {
			b.WriteString("No scripts loaded.\n")
		}
		for i, ls := range m.scripts {
			m.writeItem(&b, i, ls.name)
		}
	}

	if m.mode != inputNone {
		b.WriteString("\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(m.styles.err.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(m.styles.result.Render(m.status))
		b.WriteString("\n")
	}

	if len(m.log) > 0 {
		b.WriteString("\nEvents:\n")
		for _, line := range m.log {
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.styles.help.Render(m.help()))
	return b.String()
}

func (m *uiModel) writeItem(b *strings.Builder, i int, text string) {
	if i == m.selected {
		b.WriteString(m.styles.selected.Render("> " + text))
	} else {
		b.WriteString("  " + text)
	}
	b.WriteString("\n")
}

func (m *uiModel) breadcrumb() string {
	parts := []string{"devices"}
	if m.device != nil && m.view != viewDevices {
		name, err := m.device.Name()
		if err != nil {
			name = "?"
		}
		parts = append(parts, name)
	}
	if m.view == viewSession {
		parts = append(parts, fmt.Sprintf("pid %d", m.pid))
	}
	return strings.Join(parts, " / ")
}

func (m *uiModel) help() string {
	if m.mode != inputNone {
		return "enter submit • esc cancel"
	}
	switch m.view {
	case viewProcesses:
		return "↑/↓ select • enter attach • s spawn • x kill • r refresh • esc back • q quit"
	case viewSession:
		return "↑/↓ select • l load script • u unload • d detach • esc back • q quit"
	}
	return "↑/↓ select • enter open • q quit"
}
