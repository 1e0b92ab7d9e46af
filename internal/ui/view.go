package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/client"
	"github.com/Hello-LuckyHuang/lan-file-transfer-hub/internal/models"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	selectStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("13"))
	localStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	paneStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusColors = map[string]lipgloss.Style{
		models.StatusUploading:   lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		models.StatusDownloading: lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		models.StatusPending:     lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		models.StatusCompleted:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		models.StatusFailed:      failedStyle,
		models.StatusCancelled:   dimStyle,
	}
)

var progressBar = progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("LAN File Transfer Hub"))
	b.WriteString("  ")
	b.WriteString(dimStyle.Render(m.status))
	b.WriteString("\n\n")

	left := m.renderDevices()
	right := m.renderFileStates()
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, paneStyle.Render(left), paneStyle.Render(right)))
	b.WriteString("\n")
	b.WriteString(paneStyle.Render(m.renderFiles()))
	b.WriteString("\n")
	b.WriteString(paneStyle.Render(m.renderActivity()))
	b.WriteString("\n")

	if m.typing {
		b.WriteString("upload > " + m.pathInput.View() + "\n")
	}
	b.WriteString(dimStyle.Render("u upload · d download · c cancel/clear · x clear finished · tab switch pane · q quit"))
	return b.String()
}

func (m Model) renderDevices() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Devices (%d)", len(m.devices))))
	b.WriteString("\n")
	if len(m.devices) == 0 {
		b.WriteString(dimStyle.Render("no other devices online"))
	}
	for _, d := range m.devices {
		b.WriteString(fmt.Sprintf("● %s %s\n", d.Name, dimStyle.Render(d.Address+" · "+d.Type)))
	}
	return b.String()
}

func (m Model) renderFileStates() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Transferring"))
	b.WriteString("\n")
	if len(m.fileStates) == 0 {
		b.WriteString(dimStyle.Render("nothing in flight"))
	}
	for _, fs := range m.fileStates {
		style := statusColors[fs.Status]
		if models.IsActiveStatus(fs.Status) {
			b.WriteString(fmt.Sprintf("%s %s %6.2f%% %s\n",
				fs.FileName,
				progressBar.ViewAs(fs.Progress/100),
				fs.Progress,
				dimStyle.Render(fs.SpeedText)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", fs.FileName, style.Render(fs.Status)))
		}
	}
	return b.String()
}

func (m Model) renderFiles() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Hub files (%d)", len(m.files))))
	if !m.focusItems {
		b.WriteString(dimStyle.Render("  [focused]"))
	}
	b.WriteString("\n")
	if len(m.files) == 0 {
		b.WriteString(dimStyle.Render("no files on the hub"))
	}
	for i, f := range m.files {
		line := fmt.Sprintf("%-40s %10s  %s", truncate(f.FileName, 40), client.FormatSize(f.Size), f.ModTime.Format("2006-01-02 15:04"))
		if !m.focusItems && i == m.selectedFile {
			line = selectStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (m Model) renderActivity() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Transfer activity"))
	if m.focusItems {
		b.WriteString(dimStyle.Render("  [focused]"))
	}
	b.WriteString("\n")
	if len(m.items) == 0 {
		b.WriteString(dimStyle.Render("no transfers yet"))
	}
	for i, it := range m.items {
		who := it.DeviceName
		if it.IsLocal {
			who = localStyle.Render("this device")
		}
		style := statusColors[it.Status]
		line := fmt.Sprintf("%-32s %-12s %6.2f%%  %s", truncate(it.FileName, 32), style.Render(it.Status), it.Progress, who)
		if m.focusItems && i == m.selectedItem {
			line = selectStyle.Render(fmt.Sprintf("%-32s %-12s %6.2f%%  %s", truncate(it.FileName, 32), it.Status, it.Progress, it.DeviceName))
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
