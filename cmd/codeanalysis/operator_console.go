package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lexcodex/codeanalysis/agents/david"
	"github.com/lexcodex/codeanalysis/framework"
)

const consoleHistory = 500

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	stateStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	promptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("214")).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// consoleFeed is a telemetry sink feeding the console. Events are dropped
// when the console falls behind.
type consoleFeed struct {
	ch chan framework.Event
}

func newConsoleFeed() *consoleFeed {
	return &consoleFeed{ch: make(chan framework.Event, 256)}
}

func (f *consoleFeed) Emit(event framework.Event) {
	select {
	case f.ch <- event:
	default:
	}
}

type dialogMsg framework.DialogEvent
type eventMsg framework.Event
type runDoneMsg struct {
	result *david.RunResult
	err    error
}

type consoleModel struct {
	goal    string
	broker  *framework.DialogBroker
	dialogs <-chan framework.DialogEvent
	events  <-chan framework.Event
	cancel  context.CancelFunc

	pending []*framework.DialogRequest
	lines   []string
	state   string
	done    bool
	result  *david.RunResult
	err     error

	input   textinput.Model
	spinner spinner.Model
	log     viewport.Model
}

func newConsoleModel(goal string, broker *framework.DialogBroker, dialogs <-chan framework.DialogEvent, events <-chan framework.Event, cancel context.CancelFunc) *consoleModel {
	input := textinput.New()
	input.Placeholder = "Reply to the prompt (enter sends, esc declines)"
	input.CharLimit = 1024
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return &consoleModel{
		goal:    goal,
		broker:  broker,
		dialogs: dialogs,
		events:  events,
		cancel:  cancel,
		state:   david.StateInit.String(),
		input:   input,
		spinner: spin,
		log:     viewport.New(80, 15),
	}
}

func waitDialog(ch <-chan framework.DialogEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return dialogMsg(ev)
	}
}

func waitEvent(ch <-chan framework.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m *consoleModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textinput.Blink, waitDialog(m.dialogs), waitEvent(m.events))
}

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.appendLine("interrupted by operator")
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			m.answer(false)
			return m, nil
		case tea.KeyEsc:
			m.answer(true)
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.log.Width = msg.Width
		m.log.Height = max(msg.Height-10, 5)
		m.refreshLog()
		return m, nil
	case dialogMsg:
		m.handleDialog(framework.DialogEvent(msg))
		return m, waitDialog(m.dialogs)
	case eventMsg:
		m.handleEvent(framework.Event(msg))
		return m, waitEvent(m.events)
	case runDoneMsg:
		m.done = true
		m.result = msg.result
		m.err = msg.err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// answer replies to the oldest pending prompt, or declines it.
func (m *consoleModel) answer(decline bool) {
	if len(m.pending) == 0 {
		return
	}
	req := m.pending[0]
	var err error
	if decline {
		err = m.broker.Cancel(req.ID)
	} else {
		err = m.broker.Reply(req.ID, m.input.Value())
	}
	if err != nil {
		m.appendLine("reply failed: " + err.Error())
	}
	m.input.Reset()
}

func (m *consoleModel) handleDialog(ev framework.DialogEvent) {
	if ev.Request == nil {
		return
	}
	switch ev.Type {
	case framework.DialogEventRequested:
		m.pending = append(m.pending, ev.Request)
		m.appendLine(fmt.Sprintf("prompt from %q: %s", ev.Request.Command, ev.Request.Prompt))
	case framework.DialogEventResolved, framework.DialogEventExpired:
		m.removePending(ev.Request.ID)
		switch {
		case ev.Reply != nil && ev.Reply.Cancelled:
			m.appendLine("declined: " + ev.Request.Prompt)
		case ev.Reply != nil:
			m.appendLine(fmt.Sprintf("answered %q", ev.Reply.Text))
		default:
			m.appendLine("prompt expired: " + ev.Error)
		}
	}
}

func (m *consoleModel) removePending(id string) {
	kept := m.pending[:0]
	for _, req := range m.pending {
		if req.ID != id {
			kept = append(kept, req)
		}
	}
	m.pending = kept
}

func (m *consoleModel) handleEvent(ev framework.Event) {
	switch ev.Type {
	case framework.EventStateChange:
		m.state = ev.Message
		m.appendLine("state " + ev.Message)
	case framework.EventEpisodeStart:
		m.appendLine(fmt.Sprintf("episode %v started", ev.Metadata["episode"]))
	case framework.EventEpisodeEnd:
		m.appendLine(fmt.Sprintf("episode %v finished: %s", ev.Metadata["episode"], firstLine(ev.Message)))
	case framework.EventToolResult:
		outcome := "ok"
		if ok, _ := ev.Metadata["success"].(bool); !ok {
			outcome = "failed"
		}
		m.appendLine(fmt.Sprintf("tool %s %s", ev.Message, outcome))
	}
}

func (m *consoleModel) appendLine(line string) {
	stamp := time.Now().Format("15:04:05")
	m.lines = append(m.lines, dimStyle.Render(stamp)+" "+line)
	if len(m.lines) > consoleHistory {
		m.lines = m.lines[len(m.lines)-consoleHistory:]
	}
	m.refreshLog()
}

func (m *consoleModel) refreshLog() {
	m.log.SetContent(strings.Join(m.lines, "\n"))
	m.log.GotoBottom()
}

func (m *consoleModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("codeanalysis") + " " + m.goal + "\n")
	status := m.spinner.View() + " " + stateStyle.Render(m.state)
	if m.done {
		status = stateStyle.Render(m.state) + " (done)"
	}
	b.WriteString(status + "\n\n")
	b.WriteString(m.log.View() + "\n")
	if len(m.pending) > 0 {
		req := m.pending[0]
		b.WriteString(promptStyle.Render(fmt.Sprintf("%s\n%s", req.Command, req.Prompt)) + "\n")
		b.WriteString(m.input.View() + "\n")
	} else {
		b.WriteString(dimStyle.Render("no pending prompts, ctrl+c stops the run") + "\n")
	}
	return b.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	return line
}

// runWithConsole runs the agent in the background while the console
// answers interactive prompts in the foreground.
func runWithConsole(ctx context.Context, goal string, broker *framework.DialogBroker, feed *consoleFeed, run func(context.Context) (*david.RunResult, error)) (*david.RunResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	dialogs, unsubscribe := broker.Subscribe(16)
	defer unsubscribe()

	var events <-chan framework.Event
	if feed != nil {
		events = feed.ch
	}
	program := tea.NewProgram(newConsoleModel(goal, broker, dialogs, events, cancel), tea.WithContext(ctx))

	var result *david.RunResult
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = run(ctx)
		program.Send(runDoneMsg{result: result, err: runErr})
	}()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-done
		return result, err
	}
	cancel()
	<-done
	return result, runErr
}
