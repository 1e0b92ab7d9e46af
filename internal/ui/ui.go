// Package ui is the agent's terminal interface: online devices, the shared
// file listing, and live transfer activity fed by the client's merger.
package ui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/client"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
)

const listRefresh = 5 * time.Second

type (
	refreshMsg struct{}
	tickMsg    struct{}
	filesMsg   struct {
		files []models.FileInfo
		err   error
	}
)

// Model is the root Bubble Tea state.
type Model struct {
	ctx    context.Context
	client *client.Client

	devices    []models.Device
	files      []models.FileInfo
	items      []client.Item
	fileStates []client.FileState

	selectedFile int
	selectedItem int
	focusItems   bool // false: file list focused

	pathInput textinput.Model
	typing    bool

	status string
	width  int
	height int
}

// New builds the model around a running client session.
func New(ctx context.Context, c *client.Client) Model {
	ti := textinput.New()
	ti.Placeholder = "path to file"
	ti.CharLimit = 512
	return Model{
		ctx:       ctx,
		client:    c,
		pathInput: ti,
		status:    "connecting to hub...",
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		m.waitUpdate(),
		m.fetchFiles(),
		tickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(listRefresh, func(time.Time) tea.Msg { return tickMsg{} })
}

// waitUpdate re-arms the coalesced change signal from the client.
func (m Model) waitUpdate() tea.Cmd {
	ch := m.client.Notify()
	return func() tea.Msg {
		select {
		case <-ch:
			return refreshMsg{}
		case <-m.ctx.Done():
			return tea.Quit()
		}
	}
}

func (m Model) fetchFiles() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		defer cancel()
		files, err := m.client.ListFiles(ctx)
		return filesMsg{files: files, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshMsg:
		m.reload()
		return m, tea.Batch(m.waitUpdate(), m.fetchFiles())

	case tickMsg:
		m.reload()
		return m, tea.Batch(tickCmd(), m.fetchFiles())

	case filesMsg:
		if msg.err == nil {
			m.files = msg.files
			m.clampSelection()
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) reload() {
	m.devices = m.client.Devices()
	m.items = m.client.Merger().Items()
	m.fileStates = m.client.Merger().FileStates()
	if m.client.Connected() {
		m.status = "connected as " + m.client.Self().Name
	} else {
		m.status = "reconnecting..."
	}
	m.clampSelection()
}

func (m *Model) clampSelection() {
	if m.selectedFile >= len(m.files) {
		m.selectedFile = len(m.files) - 1
	}
	if m.selectedFile < 0 {
		m.selectedFile = 0
	}
	if m.selectedItem >= len(m.items) {
		m.selectedItem = len(m.items) - 1
	}
	if m.selectedItem < 0 {
		m.selectedItem = 0
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.typing {
		switch msg.String() {
		case "enter":
			path := m.pathInput.Value()
			m.typing = false
			m.pathInput.Blur()
			m.pathInput.SetValue("")
			if path == "" {
				return m, nil
			}
			if _, err := m.client.Upload(m.ctx, path); err != nil {
				m.status = "upload: " + err.Error()
			}
			return m, nil
		case "esc":
			m.typing = false
			m.pathInput.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.pathInput, cmd = m.pathInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.focusItems = !m.focusItems

	case "up", "k":
		if m.focusItems && m.selectedItem > 0 {
			m.selectedItem--
		} else if !m.focusItems && m.selectedFile > 0 {
			m.selectedFile--
		}

	case "down", "j":
		if m.focusItems && m.selectedItem < len(m.items)-1 {
			m.selectedItem++
		} else if !m.focusItems && m.selectedFile < len(m.files)-1 {
			m.selectedFile++
		}

	case "u":
		m.typing = true
		m.pathInput.Focus()
		return m, textinput.Blink

	case "d", "enter":
		if !m.focusItems && m.selectedFile < len(m.files) {
			name := m.files[m.selectedFile].FileName
			if _, err := m.client.Download(m.ctx, name); err != nil {
				m.status = "download: " + err.Error()
			}
		}

	case "c":
		if m.focusItems && m.selectedItem < len(m.items) {
			it := m.items[m.selectedItem]
			if it.IsLocal && models.IsActiveStatus(it.Status) {
				m.client.Cancel(it.TransferID)
			} else if !m.client.Merger().Remove(it.TransferID) {
				m.status = "in-flight entries cannot be cleared"
			}
			m.reload()
		}

	case "x":
		n := m.client.Merger().ClearFinished()
		if n > 0 {
			m.reload()
		}
	}
	return m, nil
}
