// Package tui provides a terminal user interface.
package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/circuitdiag/internal/daemon"
	"github.com/user/circuitdiag/internal/diagnose"
	"github.com/user/circuitdiag/internal/model"
	"github.com/user/circuitdiag/internal/storage"
	"github.com/user/circuitdiag/internal/util"
)

// App is the main TUI application.
type App struct {
	db        *storage.DB
	config    *util.Config
	engine    *diagnose.Engine
	serviceID string
}

// NewApp creates a new TUI application. When serviceID is set the
// service is diagnosed on start and can be re-run with 'd'.
func NewApp(db *storage.DB, cfg *util.Config, engine *diagnose.Engine, serviceID string) *App {
	return &App{
		db:        db,
		config:    cfg,
		engine:    engine,
		serviceID: serviceID,
	}
}

// Run starts the TUI application.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := newModel(ctx, a.db, a.config, a.engine, a.serviceID)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// uiModel is the main bubbletea model.
type uiModel struct {
	ctx       context.Context
	db        *storage.DB
	config    *util.Config
	engine    *diagnose.Engine
	serviceID string

	dashboard *Dashboard
	spinner   spinner.Model
	ready     bool
	width     int
	height    int
	err       error

	run *diagnosisRun
}

// diagnosisRun is the state of one live diagnosis.
type diagnosisRun struct {
	updates chan tea.Msg
	percent int
	steps   []string
	result  *model.Diagnosis
	err     error
}

func (r *diagnosisRun) active() bool {
	return r != nil && r.result == nil && r.err == nil
}

func newModel(ctx context.Context, db *storage.DB, cfg *util.Config, engine *diagnose.Engine, serviceID string) uiModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(Primary)

	return uiModel{
		ctx:       ctx,
		db:        db,
		config:    cfg,
		engine:    engine,
		serviceID: serviceID,
		spinner:   s,
	}
}

// Init initializes the model.
func (m uiModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, loadData(m.db, m.config.DataDir)}
	if m.serviceID != "" {
		cmds = append(cmds, func() tea.Msg { return startMsg{} })
	}
	return tea.Batch(cmds...)
}

// Update handles messages.
func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, loadData(m.db, m.config.DataDir)
		case "d":
			return m.startDiagnosis()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.dashboard != nil {
			m.dashboard.SetSize(msg.Width, msg.Height)
		}

	case dataMsg:
		m.ready = true
		m.dashboard = NewDashboard(msg, m.width, m.height)

	case errMsg:
		m.err = msg.err

	case startMsg:
		return m.startDiagnosis()

	case progressMsg:
		if m.run == nil {
			return m, nil
		}
		m.run.percent = msg.Percent
		m.run.steps = append(m.run.steps, msg.Message)
		return m, waitForUpdate(m.run.updates)

	case diagnosisMsg:
		if m.run == nil {
			return m, nil
		}
		m.run.percent = 100
		m.run.result = msg.Diagnosis
		m.run.err = msg.err
		if msg.err != nil {
			return m, nil
		}
		return m, loadData(m.db, m.config.DataDir)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m uiModel) startDiagnosis() (tea.Model, tea.Cmd) {
	if m.serviceID == "" || m.engine == nil || m.run.active() {
		return m, nil
	}

	m.run = &diagnosisRun{updates: make(chan tea.Msg, 64)}
	return m, tea.Batch(
		runDiagnosis(m.ctx, m.engine, m.db, m.serviceID, m.run.updates),
		waitForUpdate(m.run.updates),
	)
}

// View renders the UI.
func (m uiModel) View() string {
	if m.err != nil {
		return ErrorStyle.Render("Error: " + m.err.Error())
	}

	if !m.ready {
		return LoadingStyle.Render(m.spinner.View() + " Loading...")
	}

	return m.dashboard.View(m.serviceID, m.run, m.spinner.View())
}

// Messages
type dataMsg struct {
	Data *DashboardData
}

type errMsg struct {
	err error
}

type startMsg struct{}

type progressMsg struct {
	Percent int
	Message string
}

type diagnosisMsg struct {
	Diagnosis *model.Diagnosis
	err       error
}

func loadData(db *storage.DB, dataDir string) tea.Cmd {
	return func() tea.Msg {
		data, err := fetchDashboardData(db, dataDir)
		if err != nil {
			return errMsg{err}
		}
		return dataMsg{Data: data}
	}
}

// runDiagnosis diagnoses serviceID in the background, sending progress
// and finally the stored diagnosis on updates.
func runDiagnosis(ctx context.Context, engine *diagnose.Engine, db *storage.DB, serviceID string, updates chan<- tea.Msg) tea.Cmd {
	return func() tea.Msg {
		send := func(msg tea.Msg) {
			select {
			case updates <- msg:
			case <-ctx.Done():
			}
		}

		observer := model.ProgressFunc(func(percent int, message string) {
			send(progressMsg{Percent: percent, Message: message})
		})
		d, err := engine.Observe(observer).Diagnose(ctx, serviceID, 0)
		if err == nil {
			err = storage.NewDiagnosisStorage(db).Save(&d)
		}
		if err != nil {
			send(diagnosisMsg{err: fmt.Errorf("diagnose %s: %w", serviceID, err)})
			return nil
		}
		send(diagnosisMsg{Diagnosis: &d})
		return nil
	}
}

func waitForUpdate(updates <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func fetchDashboardData(db *storage.DB, dataDir string) (*DashboardData, error) {
	data := &DashboardData{}

	data.DaemonRunning, data.DaemonPID = daemon.CheckRunning(dataDir)
	if status, err := daemon.ReadStatusFile(dataDir); err == nil {
		data.Watched = status.Watched
		data.LastCheck = status.LastCheck
	}

	diagnoses := storage.NewDiagnosisStorage(db)
	services, err := diagnoses.Services()
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	for _, id := range services {
		latest, err := diagnoses.Latest(id)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest diagnosis for %s: %w", id, err)
		}
		if latest != nil {
			data.Services = append(data.Services, *latest)
		}
	}

	return data, nil
}
