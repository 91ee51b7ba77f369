package view

import "github.com/charmbracelet/lipgloss"

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Align(lipgloss.Right) // cyan
	botStyle       = lipgloss.NewStyle().Align(lipgloss.Left)
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Align(lipgloss.Left) // red
	separatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	buttonStyle    = lipgloss.NewStyle().Bold(true)
)
