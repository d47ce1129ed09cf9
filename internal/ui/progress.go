package ui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"custodychain/internal/processor"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type ProgressModel struct {
	blockIndex   int64
	difficulty   int
	txCount      int
	attempts     uint64
	elapsed      time.Duration
	hash         string
	startTime    time.Time
	status       string
	err          error
	progressChan <-chan processor.ProgressUpdate
	done         bool
}

type ProgressMsg processor.ProgressUpdate

type tickMsg struct{}

func NewProgressModel(progressChan <-chan processor.ProgressUpdate) ProgressModel {
	return ProgressModel{
		startTime:    time.Now(),
		status:       "Starting...",
		progressChan: progressChan,
	}
}

func (m ProgressModel) Init() tea.Cmd {
	return m.waitForActivity()
}

func (m ProgressModel) waitForActivity() tea.Cmd {
	return func() tea.Msg {
		select {
		case update, ok := <-m.progressChan:
			if !ok {
				return tea.Quit()
			}
			return ProgressMsg(update)
		case <-time.After(100 * time.Millisecond):
			return tickMsg{}
		}
	}
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.waitForActivity()

	case ProgressMsg:
		m.apply(processor.ProgressUpdate(msg))
		if m.done {
			return m, tea.Quit
		}
		return m, m.waitForActivity()
	}

	return m, nil
}

func (m *ProgressModel) apply(u processor.ProgressUpdate) {
	m.blockIndex = u.BlockIndex
	m.difficulty = u.Difficulty
	if u.TxCount > 0 || u.Status == processor.StatusSealed {
		m.txCount = u.TxCount
	}
	if u.Attempts > m.attempts {
		m.attempts = u.Attempts
	}
	m.elapsed = u.Elapsed
	m.status = u.Status
	switch u.Status {
	case processor.StatusSealed:
		m.hash = u.Hash
		m.done = true
	case processor.StatusFailed:
		m.err = u.Error
		m.done = true
	}
}

func (m ProgressModel) hashRate() float64 {
	if m.elapsed <= 0 {
		return 0
	}
	return float64(m.attempts) / m.elapsed.Seconds()
}

func (m ProgressModel) View() string {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("6")).
		MarginBottom(1)

	statsStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("7"))

	header := headerStyle.Render(fmt.Sprintf("⛏  Sealing block %d", m.blockIndex))

	stats := statsStyle.Render(fmt.Sprintf(
		"🎯 Difficulty: %d leading zeros | Transactions: %d\n"+
			"🔢 Attempts: %d | %.0f H/s\n"+
			"⏱️  Elapsed: %s",
		m.difficulty, m.txCount,
		m.attempts, m.hashRate(),
		time.Since(m.startTime).Truncate(time.Millisecond)))

	var footer string
	switch {
	case m.err != nil:
		footer = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).
			Render("✗ " + m.err.Error())
	case m.hash != "":
		footer = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")).
			Render("✓ " + m.hash)
	default:
		footer = m.renderSpinner()
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s\n\nPress 'q' or Ctrl+C to quit\n", header, stats, footer)
}

func (m ProgressModel) renderSpinner() string {
	width := 32
	pos := int(time.Since(m.startTime)/(80*time.Millisecond)) % width
	bar := strings.Repeat("░", pos) + "█" + strings.Repeat("░", width-pos-1)
	return lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Render("[" + bar + "]")
}

// RunProgressUI renders seal progress until the miner reports a sealed or
// failed block.
func RunProgressUI(ctx context.Context, progressChan <-chan processor.ProgressUpdate) error {
	if !isInteractiveTerminal() {
		return runSimpleProgress(ctx, os.Stdout, progressChan)
	}

	model := NewProgressModel(progressChan)

	p := tea.NewProgram(model)

	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	_, err := p.Run()
	return err
}

func isInteractiveTerminal() bool {
	file, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return false
	}
	file.Close()
	return true
}

func runSimpleProgress(ctx context.Context, w io.Writer, progressChan <-chan processor.ProgressUpdate) error {
	var lastReport time.Time
	for {
		select {
		case update, ok := <-progressChan:
			if !ok {
				return nil
			}
			switch update.Status {
			case processor.StatusSealed:
				fmt.Fprintf(w, "Sealed block %d (%d txs) after %d attempts in %s\n",
					update.BlockIndex, update.TxCount, update.Attempts, update.Elapsed.Truncate(time.Millisecond))
				fmt.Fprintf(w, "Hash: %s\n", update.Hash)
				return nil
			case processor.StatusFailed:
				fmt.Fprintf(w, "Sealing block %d failed: %v\n", update.BlockIndex, update.Error)
				return nil
			default:
				if update.Attempts == 0 {
					fmt.Fprintf(w, "Sealing block %d at difficulty %d (%d txs)\n",
						update.BlockIndex, update.Difficulty, update.TxCount)
				} else if time.Since(lastReport) >= time.Second {
					lastReport = time.Now()
					fmt.Fprintf(w, "  %d attempts, %s elapsed\n", update.Attempts, update.Elapsed.Truncate(time.Second))
				}
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
