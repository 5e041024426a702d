package agents

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Agent is one entry of the read-only agent directory. The directory only
// enriches listings and default instructions; the run engine works without
// it.
type Agent struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Model        string `yaml:"model" json:"model,omitempty"`
	Instructions string `yaml:"instructions" json:"instructions,omitempty"`
}

type directoryFile struct {
	Agents []Agent `yaml:"agents"`
}

// Directory is an immutable lookup of configured agents.
type Directory struct {
	agents map[string]Agent
	order  []string
}

// LoadDirectory reads the YAML agents file. A missing file yields an empty
// directory, not an error.
func LoadDirectory(path string) (*Directory, error) {
	directory := &Directory{agents: map[string]Agent{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return directory, nil
		}
		return nil, fmt.Errorf("read agents file: %w", err)
	}

	parsed := directoryFile{}
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse agents file: %w", err)
	}

	for _, agent := range parsed.Agents {
		id := strings.TrimSpace(agent.ID)
		if id == "" {
			continue
		}
		if _, exists := directory.agents[id]; exists {
			continue
		}
		agent.ID = id
		directory.agents[id] = agent
		directory.order = append(directory.order, id)
	}
	return directory, nil
}

func (d *Directory) Get(id string) (Agent, bool) {
	if d == nil {
		return Agent{}, false
	}
	agent, ok := d.agents[strings.TrimSpace(id)]
	return agent, ok
}

func (d *Directory) List() []Agent {
	if d == nil {
		return nil
	}
	out := make([]Agent, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.agents[id])
	}
	return out
}
