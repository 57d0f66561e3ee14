package sim

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProtocolConfig is a protocol description loaded from YAML: the initial
// configuration, the transition list and a few simulation options. States
// in a file are always strings.
type ProtocolConfig struct {
	Name  string           `yaml:"name,omitempty"`
	Init  map[string]int64 `yaml:"init"`
	Rules []RuleConfig     `yaml:"transitions"`
	Order string           `yaml:"order,omitempty"`
	Seed  int64            `yaml:"seed,omitempty"`
}

// RuleConfig is one transition: an input pair plus either a single output
// pair or a list of probability branches.
type RuleConfig struct {
	In      []string       `yaml:"in"`
	Out     []string       `yaml:"out,omitempty"`
	Outputs []BranchConfig `yaml:"outputs,omitempty"`
}

// BranchConfig is one randomized branch.
type BranchConfig struct {
	Out []string `yaml:"out"`
	P   float64  `yaml:"p"`
}

// LoadProtocol reads and parses a YAML protocol file. Uses strict parsing:
// unrecognized keys (typos) are rejected.
func LoadProtocol(path string) (*ProtocolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading protocol: %w", err)
	}
	var cfg ProtocolConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing protocol: %w", err)
	}
	return &cfg, nil
}

// Build validates the config and turns it into the pieces Simulation
// needs: an initial configuration, a rule and a transition order.
func (c *ProtocolConfig) Build() (map[State]int64, Rule, TransitionOrder, error) {
	order, err := ParseOrder(c.Order)
	if err != nil {
		return nil, nil, 0, err
	}
	if len(c.Init) == 0 {
		return nil, nil, 0, fmt.Errorf("%w: empty initial configuration", ErrInvalidConfig)
	}
	init := make(map[State]int64, len(c.Init))
	for st, n := range c.Init {
		if n < 0 {
			return nil, nil, 0, fmt.Errorf("%w: negative count %d for state %q", ErrInvalidConfig, n, st)
		}
		init[st] = n
	}
	rule := make(RuleDist, len(c.Rules))
	for k, t := range c.Rules {
		if len(t.In) != 2 {
			return nil, nil, 0, fmt.Errorf("%w: transition %d needs exactly 2 input states, got %d",
				ErrInvalidRule, k, len(t.In))
		}
		in := Pair{X: t.In[0], Y: t.In[1]}
		var branches []Outcome
		switch {
		case len(t.Out) == 2 && len(t.Outputs) == 0:
			branches = Det(t.Out[0], t.Out[1])
		case len(t.Out) == 0 && len(t.Outputs) > 0:
			for _, b := range t.Outputs {
				if len(b.Out) != 2 {
					return nil, nil, 0, fmt.Errorf("%w: transition %d branch needs exactly 2 output states, got %d",
						ErrInvalidRule, k, len(b.Out))
				}
				branches = append(branches, Outcome{Pair: Pair{X: b.Out[0], Y: b.Out[1]}, P: b.P})
			}
		default:
			return nil, nil, 0, fmt.Errorf("%w: transition %d must set exactly one of out or outputs",
				ErrInvalidRule, k)
		}
		if _, dup := rule[in]; dup {
			return nil, nil, 0, fmt.Errorf("%w: duplicate transition for input (%s, %s)",
				ErrInvalidRule, t.In[0], t.In[1])
		}
		rule[in] = branches
	}
	return init, rule, order, nil
}
