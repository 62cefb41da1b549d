package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/artpar/shipyard/internal/core/domain"
)

var stageNames = map[domain.Stage]string{
	domain.StageCredentials:  "Credentials",
	domain.StageWorkspace:    "Workspace",
	domain.StageRepositories: "Repositories",
	domain.StageCompute:      "Compute services",
	domain.StageBuild:        "Build",
	domain.StageDNS:          "DNS",
}

// Step is the display state of one pipeline stage.
type Step struct {
	Stage   domain.Stage
	Name    string
	State   domain.EventStatus // empty until the stage starts
	Status  string
	Started time.Time
	Ended   time.Time
}

// Active reports whether the stage is running.
func (s Step) Active() bool {
	return s.State == domain.EventRunning
}

// Model is the Bubble Tea model of the deploy command.
type Model struct {
	Project string
	AppType domain.AppType

	Steps    []Step
	Progress int
	Result   *domain.DeploymentResult

	StartTime    time.Time
	SpinnerFrame int

	// UI state
	Width int
	Err   error
	Done  bool
}

// NewModel creates a model with every stage pending.
func NewModel(project string, appType domain.AppType) Model {
	m := Model{
		Project:   project,
		AppType:   appType,
		StartTime: time.Now(),
	}
	for _, stage := range domain.Stages {
		if stage == domain.StageComplete {
			continue
		}
		m.Steps = append(m.Steps, Step{Stage: stage, Name: stageNames[stage]})
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width

	case EventMsg:
		m.apply(msg.Event)

	case TickMsg:
		m.SpinnerFrame++
		return m, tickCmd()

	case ErrMsg:
		m.Err = msg.Err
		return m, tea.Quit

	case DoneMsg:
		if m.Result == nil {
			result := msg.Result
			m.Result = &result
		}
		m.Done = true
		m.Progress = 100
		return m, tea.Quit
	}

	return m, nil
}

// apply folds an event into the step list.
func (m *Model) apply(event domain.ProgressEvent) {
	if event.Progress > m.Progress {
		m.Progress = event.Progress
	}
	if event.Terminal() {
		m.Result = event.Result
		return
	}

	for i := range m.Steps {
		step := &m.Steps[i]
		if step.Stage != event.Step {
			continue
		}
		if event.State == domain.EventRunning {
			step.Started = event.Timestamp
		} else {
			step.Ended = event.Timestamp
		}
		step.State = event.State
		step.Status = event.Status
		return
	}
}

// Succeeded reports whether the finished run produced a successful result.
func (m Model) Succeeded() bool {
	return m.Result != nil && m.Result.Success
}

func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View implements tea.Model.
func (m Model) View() string {
	return renderView(m)
}
