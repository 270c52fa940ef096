package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"evalgate/internal/domain"
	"evalgate/pkg/evalgate"
)

const watchRefresh = 5 * time.Second

type tickMsg time.Time

type promotionsMsg struct {
	recs []domain.PromotionRecord
	err  error
}

func tickCmd() tea.Cmd {
	return tea.Tick(watchRefresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// watchModel polls the server and shows the promotion table.
type watchModel struct {
	client  *evalgate.Client
	state   domain.PromotionState
	recs    []domain.PromotionRecord
	err     error
	updated time.Time

	viewport      viewport.Model
	ready         bool
	width, height int
}

func (m watchModel) fetch() tea.Cmd {
	c, state := m.client, m.state
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), watchRefresh)
		defer cancel()
		recs, err := c.ListPromotions(ctx, state)
		return promotionsMsg{recs: recs, err: err}
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tickCmd())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		vpHeight := m.height - 2
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
			m.viewport.SetContent(m.content())
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetch(), tickCmd())

	case promotionsMsg:
		m.err = msg.err
		if msg.err == nil {
			m.recs, m.updated = msg.recs, time.Now()
		}
		if m.ready {
			m.viewport.SetContent(m.content())
		}
		return m, nil
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m watchModel) content() string {
	if m.err != nil {
		return lossStyle.Render("error: " + m.err.Error())
	}
	return renderPromotions(m.recs)
}

func (m watchModel) View() string {
	if !m.ready {
		return "Loading..."
	}
	filter := "all"
	if m.state != "" {
		filter = string(m.state)
	}
	header := fmt.Sprintf(" evalgate  %d strategies (%s)  updated %s ", len(m.recs), filter, m.updated.Format("15:04:05"))
	footer := dimStyle.Render(" q quit  r refresh")
	return cell(titleStyle, header, m.width) + "\n" + m.viewport.View() + "\n" + footer
}

func watch(c *evalgate.Client, state domain.PromotionState) error {
	p := tea.NewProgram(
		watchModel{client: c, state: state},
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := p.Run()
	return err
}
