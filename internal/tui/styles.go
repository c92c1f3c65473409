package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleClaimed = lipgloss.NewStyle().
			Foreground(lipgloss.Color("yellow")).
			Bold(true)

	StyleCompleted = lipgloss.NewStyle().
			Foreground(lipgloss.Color("green")).
			Bold(true)

	StyleFailed = lipgloss.NewStyle().
			Foreground(lipgloss.Color("red")).
			Bold(true)

	StylePending = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	StyleReview = lipgloss.NewStyle().
			Foreground(lipgloss.Color("magenta"))
)

// Reputation band styles
var (
	StyleHealthy = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	StyleWatch   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	StyleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	StyleEvolve  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleDim = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)
