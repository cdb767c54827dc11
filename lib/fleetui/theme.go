// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleetui

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/bureau-foundation/shardwire/gateway"
)

// Theme is the dashboard palette, in ANSI 256-color codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	StateReady        lipgloss.Color
	StateHandshake    lipgloss.Color // connecting, identifying, resuming
	StateDisconnected lipgloss.Color
	StateStopped      lipgloss.Color

	// HotAccent tints rows whose state changed within the heat window.
	HotAccent lipgloss.Color

	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	NoticeForeground lipgloss.Color
	ErrorForeground  lipgloss.Color
}

// StateColor returns the color for a session state.
func (theme Theme) StateColor(state gateway.State) lipgloss.Color {
	switch state {
	case gateway.StateReady:
		return theme.StateReady
	case gateway.StateConnecting, gateway.StateIdentifying, gateway.StateResuming:
		return theme.StateHandshake
	case gateway.StateDisconnected:
		return theme.StateDisconnected
	case gateway.StateStopped:
		return theme.StateStopped
	default:
		return theme.FaintText
	}
}

// DefaultTheme is the built-in dark-terminal scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	StateReady:        lipgloss.Color("114"), // green
	StateHandshake:    lipgloss.Color("220"), // amber
	StateDisconnected: lipgloss.Color("208"), // orange
	StateStopped:      lipgloss.Color("196"), // red

	HotAccent: lipgloss.Color("58"),

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	NoticeForeground: lipgloss.Color("75"),
	ErrorForeground:  lipgloss.Color("196"),
}

// NewRenderer returns a renderer for w. With plain set it never emits
// escape sequences; otherwise the profile is detected from w and the
// environment (NO_COLOR, COLORTERM, TERM).
func NewRenderer(w io.Writer, plain bool) *lipgloss.Renderer {
	if plain {
		renderer := lipgloss.NewRenderer(w, termenv.WithProfile(termenv.Ascii))
		renderer.SetColorProfile(termenv.Ascii)
		return renderer
	}
	return lipgloss.NewRenderer(w)
}
