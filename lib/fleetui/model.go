// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleetui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/shardwire/gateway"
	"github.com/bureau-foundation/shardwire/rest"
)

// Source supplies shard snapshots sorted by shard id.
type Source interface {
	Status() []gateway.ShardStatus
}

// Restarter puts a stopped shard back into rotation.
type Restarter interface {
	Restart(shardID int) error
}

// RateLimits supplies REST bucket snapshots.
type RateLimits interface {
	Buckets() []rest.BucketStatus
}

const (
	defaultInterval   = time.Second
	defaultHeatWindow = 10 * time.Second

	// chromeLines is the header, column header, rate-limit line, and
	// footer around the shard rows.
	chromeLines = 4
)

// Options configures a Model. The zero value is usable.
type Options struct {
	// Title is shown at the top left. Default: "shardwire".
	Title string

	// Interval between source polls. Default: 1s.
	Interval time.Duration

	// HeatWindow is how long a row stays tinted after its state
	// changes. Default: 10s.
	HeatWindow time.Duration

	// RateLimits, when set, adds the exhausted-bucket line.
	RateLimits RateLimits

	Keys  *KeyMap
	Theme *Theme

	// Renderer decides the color profile. Default: lipgloss's
	// renderer for stdout.
	Renderer *lipgloss.Renderer

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// tickMsg drives polling.
type tickMsg time.Time

// restartResultMsg reports a Restart call made from the dashboard.
type restartResultMsg struct {
	shardID int
	err     error
}

// Model is the bubbletea model for the fleet dashboard.
type Model struct {
	source     Source
	restarter  Restarter
	limits     RateLimits
	keys       KeyMap
	theme      Theme
	renderer   *lipgloss.Renderer
	help       help.Model
	title      string
	interval   time.Duration
	heatWindow time.Duration
	now        func() time.Time

	shards    []gateway.ShardStatus
	lastState map[int]gateway.State
	changedAt map[int]time.Time
	exhausted []rest.BucketStatus

	cursor int
	offset int
	width  int
	height int

	notice        string
	noticeIsError bool
}

// NewModel returns a dashboard over source, already holding a first
// snapshot. When source also implements Restarter the restart key is
// active.
func NewModel(source Source, options Options) Model {
	model := Model{
		source:     source,
		limits:     options.RateLimits,
		keys:       DefaultKeyMap,
		theme:      DefaultTheme,
		help:       help.New(),
		title:      options.Title,
		interval:   options.Interval,
		heatWindow: options.HeatWindow,
		now:        options.Now,
		lastState:  make(map[int]gateway.State),
		changedAt:  make(map[int]time.Time),
	}
	if restarter, ok := source.(Restarter); ok {
		model.restarter = restarter
	}
	if options.Keys != nil {
		model.keys = *options.Keys
	}
	if options.Theme != nil {
		model.theme = *options.Theme
	}
	model.renderer = options.Renderer
	if model.renderer == nil {
		model.renderer = lipgloss.DefaultRenderer()
	}
	if model.title == "" {
		model.title = "shardwire"
	}
	if model.interval <= 0 {
		model.interval = defaultInterval
	}
	if model.heatWindow <= 0 {
		model.heatWindow = defaultHeatWindow
	}
	if model.now == nil {
		model.now = time.Now
	}
	model.refresh()
	return model
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return model.tick()
}

func (model Model) tick() tea.Cmd {
	return tea.Tick(model.interval, func(at time.Time) tea.Msg { return tickMsg(at) })
}

// refresh takes a new snapshot and records state changes.
func (model *Model) refresh() {
	now := model.now()
	model.shards = model.source.Status()
	for _, shard := range model.shards {
		previous, seen := model.lastState[shard.ShardID]
		if seen && previous != shard.State {
			model.changedAt[shard.ShardID] = now
		}
		model.lastState[shard.ShardID] = shard.State
	}

	model.exhausted = nil
	if model.limits != nil {
		for _, bucket := range model.limits.Buckets() {
			if bucket.Known && !bucket.Unlimited && bucket.Remaining == 0 && bucket.ResetAt.After(now) {
				model.exhausted = append(model.exhausted, bucket)
			}
		}
	}

	model.cursor = min(model.cursor, max(len(model.shards)-1, 0))
	model.clampOffset()
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tickMsg:
		model.refresh()
		return model, model.tick()

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.help.Width = message.Width
		model.clampOffset()
		return model, nil

	case restartResultMsg:
		if message.err != nil {
			model.setNotice(fmt.Sprintf("restart shard %d: %v", message.shardID, message.err), true)
		} else {
			model.setNotice(fmt.Sprintf("shard %d restarted", message.shardID), false)
		}
		model.refresh()
		return model, nil

	case tea.KeyMsg:
		return model.handleKey(message)
	}
	return model, nil
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	page := max(model.visibleRows(), 1)
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit
	case key.Matches(message, model.keys.Up):
		model.moveCursor(-1)
	case key.Matches(message, model.keys.Down):
		model.moveCursor(1)
	case key.Matches(message, model.keys.PageUp):
		model.moveCursor(-page)
	case key.Matches(message, model.keys.PageDown):
		model.moveCursor(page)
	case key.Matches(message, model.keys.Home):
		model.moveCursor(-len(model.shards))
	case key.Matches(message, model.keys.End):
		model.moveCursor(len(model.shards))
	case key.Matches(message, model.keys.Refresh):
		model.refresh()
	case key.Matches(message, model.keys.Restart):
		return model, model.restartSelected()
	}
	return model, nil
}

func (model *Model) restartSelected() tea.Cmd {
	if len(model.shards) == 0 {
		return nil
	}
	shard := model.shards[model.cursor]
	if model.restarter == nil {
		model.setNotice("restart is not available for this source", true)
		return nil
	}
	if shard.State != gateway.StateStopped {
		model.setNotice(fmt.Sprintf("shard %d is %s, not stopped", shard.ShardID, shard.State), true)
		return nil
	}
	restarter := model.restarter
	shardID := shard.ShardID
	model.setNotice(fmt.Sprintf("restarting shard %d", shardID), false)
	return func() tea.Msg {
		return restartResultMsg{shardID: shardID, err: restarter.Restart(shardID)}
	}
}

func (model *Model) setNotice(text string, isError bool) {
	model.notice = text
	model.noticeIsError = isError
}

func (model *Model) moveCursor(delta int) {
	if len(model.shards) == 0 {
		return
	}
	model.cursor = min(max(model.cursor+delta, 0), len(model.shards)-1)
	model.clampOffset()
}

// visibleRows is how many shard rows fit. Before the first
// WindowSizeMsg every row is shown.
func (model Model) visibleRows() int {
	if model.height == 0 {
		return len(model.shards)
	}
	return max(model.height-chromeLines, 1)
}

// clampOffset keeps the cursor inside the visible window.
func (model *Model) clampOffset() {
	rows := model.visibleRows()
	if model.cursor < model.offset {
		model.offset = model.cursor
	}
	if model.cursor >= model.offset+rows {
		model.offset = model.cursor - rows + 1
	}
	model.offset = min(max(model.offset, 0), max(len(model.shards)-rows, 0))
}

// Summary returns the header's fleet summary, such as
// "ready 3/4  latency 41ms".
func (model Model) Summary() string {
	ready := 0
	var total time.Duration
	measured := 0
	for _, shard := range model.shards {
		if shard.State == gateway.StateReady {
			ready++
		}
		if shard.Latency > 0 {
			total += shard.Latency
			measured++
		}
	}
	summary := fmt.Sprintf("ready %d/%d", ready, len(model.shards))
	if measured > 0 {
		summary += "  latency " + formatLatency(total/time.Duration(measured))
	}
	return summary
}

const columnHeader = "SHARD  STATE         SESSION         SEQ   LATENCY  RECONN  LAST ACK"

// View implements tea.Model.
func (model Model) View() string {
	now := model.now()
	var lines []string

	headerStyle := model.renderer.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground)
	lines = append(lines, headerStyle.Render(model.title)+"  "+model.Summary())
	lines = append(lines, model.renderer.NewStyle().Foreground(model.theme.FaintText).Render(columnHeader))

	end := min(model.offset+model.visibleRows(), len(model.shards))
	for index := model.offset; index < end; index++ {
		lines = append(lines, model.renderRow(index, now))
	}
	if len(model.shards) == 0 {
		lines = append(lines, model.renderer.NewStyle().Foreground(model.theme.FaintText).Render("no shards"))
	}

	lines = append(lines, model.renderRateLimits(now))
	lines = append(lines, model.renderFooter())

	if model.width > 0 {
		for index, line := range lines {
			lines[index] = ansi.Truncate(line, model.width, "…")
		}
	}
	return strings.Join(lines, "\n")
}

func (model Model) renderRow(index int, now time.Time) string {
	shard := model.shards[index]

	sequence := "-"
	if shard.HasSequence {
		sequence = strconv.FormatInt(shard.Sequence, 10)
	}
	session := shard.SessionID
	if session == "" {
		session = "-"
	}
	latency := "-"
	if shard.Latency > 0 {
		latency = formatLatency(shard.Latency)
	}
	lastAck := "-"
	if !shard.LastAck.IsZero() {
		lastAck = formatAge(now.Sub(shard.LastAck))
	}

	rowStyle := model.renderer.NewStyle().Foreground(model.theme.NormalText)
	switch {
	case index == model.cursor:
		rowStyle = rowStyle.Background(model.theme.SelectedBackground).Foreground(model.theme.SelectedForeground)
	case model.isHot(shard.ShardID, now):
		rowStyle = rowStyle.Background(model.theme.HotAccent)
	}
	stateStyle := rowStyle.Foreground(model.theme.StateColor(shard.State))

	return rowStyle.Render(fmt.Sprintf("%5d  ", shard.ShardID)) +
		stateStyle.Render(fmt.Sprintf("%-12s  ", shard.State)) +
		rowStyle.Render(fmt.Sprintf("%-12s %6s  %8s  %6d  %8s",
			ansi.Truncate(session, 12, "…"), sequence, latency, shard.Reconnects, lastAck))
}

func (model Model) isHot(shardID int, now time.Time) bool {
	changed, ok := model.changedAt[shardID]
	return ok && now.Sub(changed) < model.heatWindow
}

func (model Model) renderRateLimits(now time.Time) string {
	style := model.renderer.NewStyle().Foreground(model.theme.FaintText)
	if len(model.exhausted) == 0 {
		if model.limits == nil {
			return ""
		}
		return style.Render("rate limits: clear")
	}
	parts := make([]string, 0, len(model.exhausted))
	for _, bucket := range model.exhausted {
		name := bucket.Key
		if bucket.Hash != "" {
			name = bucket.Hash
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", name, formatAge(bucket.ResetAt.Sub(now))))
	}
	return style.Foreground(model.theme.StateDisconnected).Render("rate limited: " + strings.Join(parts, ", "))
}

func (model Model) renderFooter() string {
	if model.notice != "" {
		color := model.theme.NoticeForeground
		if model.noticeIsError {
			color = model.theme.ErrorForeground
		}
		return model.renderer.NewStyle().Foreground(color).Render(model.notice)
	}
	return model.help.ShortHelpView(model.keys.shortHelp())
}

func formatLatency(latency time.Duration) string {
	if latency < time.Millisecond {
		return latency.Round(time.Microsecond).String()
	}
	return latency.Round(time.Millisecond).String()
}

// formatAge renders a short duration like "3s" or "2m05s".
func formatAge(age time.Duration) string {
	if age < 0 {
		age = 0
	}
	seconds := int(age.Round(time.Second) / time.Second)
	if seconds < 60 {
		return strconv.Itoa(seconds) + "s"
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm%02ds", seconds/60, seconds%60)
	}
	return fmt.Sprintf("%dh%02dm", seconds/3600, seconds%3600/60)
}
