package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"scenecore/internal/concierge"
	"scenecore/internal/directive"
	"scenecore/internal/scene"
)

var (
	agentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	toastStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)
	sceneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(0, 1)
)

func renderTurn(t concierge.Turn) string {
	if t.Stale {
		return mutedStyle.Render("(reply dropped: identity changed)")
	}
	var lines []string
	if t.Restored {
		lines = append(lines, mutedStyle.Render("(conversation restored)"))
	}
	if t.Display != "" {
		lines = append(lines, agentStyle.Render("agent")+" "+t.Display)
	}
	if t.Directive != nil {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("-> %s via %s", t.Directive.Action, t.Method)))
	}
	return strings.Join(lines, "\n")
}

func renderToast(c directive.Capture) string {
	return toastStyle.Render(c.Label)
}

func renderError(err error) string {
	return errorStyle.Render("error: " + err.Error())
}

func renderScene(s scene.State) string {
	rows := []string{
		fmt.Sprintf("layout      %s (chat %s)", s.Layout, s.ChatPosition),
		fmt.Sprintf("setting     %s", s.Setting),
		fmt.Sprintf("background  %s", describeBackground(s.Background)),
		fmt.Sprintf("transition  #%d", s.TransitionKey),
	}
	if len(s.Products) > 0 {
		names := make([]string, 0, len(s.Products))
		for _, p := range s.Products {
			name := p.Name
			if name == "" {
				name = p.ID
			}
			names = append(names, name)
		}
		rows = append(rows, "products    "+strings.Join(names, ", "))
	}
	if s.CheckoutActive && s.Checkout != nil {
		rows = append(rows, fmt.Sprintf("checkout    %d items, %.2f %s", len(s.Checkout.Items), s.Checkout.Total, s.Checkout.Currency))
	}
	if !s.CheckoutActive && s.Checkout != nil && s.Checkout.OrderID != "" {
		rows = append(rows, "order       "+s.Checkout.OrderID+" "+s.Checkout.Status)
	}
	if s.WelcomeActive {
		rows = append(rows, "welcome     "+s.WelcomeMessage)
	}
	return sceneStyle.Render(strings.Join(rows, "\n"))
}

func describeBackground(b scene.Background) string {
	v := b.Value
	if len(v) > 48 {
		v = v[:45] + "..."
	}
	s := fmt.Sprintf("%s %s", b.Kind, v)
	if b.Loading {
		s += " (generating)"
	}
	return s
}
