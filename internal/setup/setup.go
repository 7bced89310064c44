// Package setup provides an interactive first-run wizard that writes
// orchestrator.toml: workspace path, the main agent's LLM profile, and
// which sub-agent roles to enable.
package setup

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/davidkarpay/agentrt/internal/config"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).MarginBottom(1)
	subtitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	normalStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// step is one page of the wizard.
type step int

const (
	stepWorkspace step = iota
	stepProvider
	stepModel
	stepBaseURL
	stepAPIKeyEnv
	stepRoles
	stepConfirm
	stepDone
)

var roleChoices = []config.Role{
	config.RoleReviewer,
	config.RoleResearcher,
	config.RoleImplementer,
	config.RoleTester,
	config.RoleOptimizer,
}

// Model is the bubbletea model driving the wizard.
type Model struct {
	step      step
	input     textinput.Model
	cursor    int
	selected  map[int]bool
	err       error

	workspace string
	provider  string
	model     string
	baseURL   string
	apiKeyEnv string

	outPath string
}

// New creates a wizard model that will write cfg to outPath on completion.
func New(outPath string) Model {
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 50
	ti.Placeholder = "."
	return Model{
		step:      stepWorkspace,
		input:     ti,
		selected:  make(map[int]bool),
		workspace: ".",
		provider:  "openai",
		outPath:   outPath,
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch keyMsg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	}

	switch m.step {
	case stepRoles:
		return m.updateRoles(keyMsg)
	default:
		return m.updateTextStep(keyMsg)
	}
}

func (m Model) updateTextStep(keyMsg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if keyMsg.String() == "enter" {
		val := m.input.Value()
		switch m.step {
		case stepWorkspace:
			if val != "" {
				m.workspace = val
			}
			m.step = stepProvider
		case stepProvider:
			if val != "" {
				m.provider = val
			}
			m.step = stepModel
		case stepModel:
			m.model = val
			m.step = stepBaseURL
		case stepBaseURL:
			m.baseURL = val
			m.step = stepAPIKeyEnv
		case stepAPIKeyEnv:
			m.apiKeyEnv = val
			m.step = stepRoles
		case stepConfirm:
			if err := m.write(); err != nil {
				m.err = err
			}
			m.step = stepDone
			return m, tea.Quit
		}
		m.input.SetValue("")
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(keyMsg)
	return m, cmd
}

func (m Model) updateRoles(keyMsg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch keyMsg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(roleChoices)-1 {
			m.cursor++
		}
	case " ":
		m.selected[m.cursor] = !m.selected[m.cursor]
	case "enter":
		m.step = stepConfirm
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	switch m.step {
	case stepWorkspace:
		b.WriteString(titleStyle.Render("Orchestrator setup"))
		b.WriteString("\nWorkspace directory [.]: " + m.input.View())
	case stepProvider:
		b.WriteString(titleStyle.Render("Main agent provider"))
		b.WriteString("\nProvider [openai]: " + m.input.View())
	case stepModel:
		b.WriteString(titleStyle.Render("Model id"))
		b.WriteString("\nModel: " + m.input.View())
	case stepBaseURL:
		b.WriteString(titleStyle.Render("API base URL"))
		b.WriteString("\nBase URL: " + m.input.View())
	case stepAPIKeyEnv:
		b.WriteString(titleStyle.Render("API key environment variable"))
		b.WriteString("\nEnv var name: " + m.input.View())
	case stepRoles:
		b.WriteString(titleStyle.Render("Enable sub-agent roles"))
		b.WriteString("\n" + subtitleStyle.Render("space to toggle, enter to continue") + "\n")
		for i, r := range roleChoices {
			cursor := " "
			if m.cursor == i {
				cursor = ">"
			}
			mark := "[ ]"
			style := normalStyle
			if m.selected[i] {
				mark = "[x]"
				style = selectedStyle
			}
			b.WriteString(fmt.Sprintf("%s %s %s\n", cursor, mark, style.Render(string(r))))
		}
	case stepConfirm:
		b.WriteString(titleStyle.Render("Confirm"))
		b.WriteString(fmt.Sprintf("\nWorkspace: %s\nProvider: %s\nModel: %s\nBase URL: %s\nAPI key env: %s\n",
			m.workspace, m.provider, m.model, m.baseURL, m.apiKeyEnv))
		b.WriteString("\nPress enter to write " + m.outPath)
	case stepDone:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("failed to write config: %v", m.err)))
		} else {
			b.WriteString(successStyle.Render("Wrote " + m.outPath))
		}
	}
	return b.String() + "\n"
}

// selectedRoles returns each role toggled on in the wizard.
func (m Model) selectedRoles() []config.Role {
	var out []config.Role
	for i, r := range roleChoices {
		if m.selected[i] {
			out = append(out, r)
		}
	}
	return out
}

// buildConfig converts the wizard's collected answers into a Config,
// layered over the runtime defaults.
func (m Model) buildConfig() *config.Config {
	cfg := config.New()
	cfg.Workspace = m.workspace

	main := cfg.Profiles[string(config.RoleMain)]
	main.Provider = m.provider
	main.ModelID = m.model
	main.BaseURL = m.baseURL
	main.APIKeyEnv = m.apiKeyEnv
	main.Role = config.RoleMain
	cfg.Profiles[string(config.RoleMain)] = main

	for _, role := range m.selectedRoles() {
		cfg.Profiles[string(role)] = config.AgentProfile{
			Role:          role,
			Provider:      m.provider,
			ModelID:       m.model,
			BaseURL:       m.baseURL,
			APIKeyEnv:     m.apiKeyEnv,
			StreamEnabled: true,
			MaxTokens:     4096,
		}
	}
	return cfg
}

func (m Model) write() error {
	cfg := m.buildConfig()
	f, err := os.Create(m.outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Run starts the wizard and blocks until the user completes or cancels it.
func Run(outPath string) error {
	p := tea.NewProgram(New(outPath))
	final, err := p.Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(Model); ok && fm.err != nil {
		return fm.err
	}
	return nil
}
