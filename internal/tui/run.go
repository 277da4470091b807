package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/varalys/fimwatch/internal/engine"
)

// Feed is a monitor the view can follow.
type Feed interface {
	Source
	Subscribe(func(engine.Outcome))
}

// Run shows the live view until the user quits or ctx is cancelled.
// Outcomes arriving faster than the view can render are dropped rather
// than blocking the monitor's workers.
func Run(ctx context.Context, feed Feed) error {
	m := NewModel(feed, LoadPrefs())
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	ch := make(chan engine.Outcome, 256)
	feed.Subscribe(func(o engine.Outcome) {
		select {
		case ch <- o:
		default:
		}
	})
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case o := <-ch:
				p.Send(outcomeMsg(o))
			case <-stop:
				return
			}
		}
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
