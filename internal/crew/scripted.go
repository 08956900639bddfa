package crew

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"venturegate/internal/domain"
)

// Scripted replays canned phase outputs from a YAML fixture file:
//
//	desirability:
//	  - {problem_resonance: 0.1, zombie_ratio: 0.9}
//	  - {problem_resonance: 0.72, zombie_ratio: 0.21, conversion_rate: 0.15}
//
// The n-th call for a run and phase gets the n-th entry; the last entry repeats. An entry with an
// "error" key fails the call with that message.
type Scripted struct {
	mu       sync.Mutex
	fixtures map[string][]any
	calls    map[string]int
}

func NewScripted(fixtures map[string][]any) *Scripted {
	return &Scripted{fixtures: fixtures, calls: map[string]int{}}
}

func ParseScripted(data []byte) (*Scripted, error) {
	var fixtures map[string][]any
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("parse crew fixtures: %w", err)
	}
	for name := range fixtures {
		if _, err := domain.ParsePhase(name); err != nil {
			return nil, fmt.Errorf("crew fixtures: %w", err)
		}
	}
	return NewScripted(fixtures), nil
}

func LoadScripted(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScripted(data)
}

func (s *Scripted) Run(ctx context.Context, phase domain.Phase, in Inputs) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	entries := s.fixtures[phase.Name()]
	key := in.RunID + "/" + phase.Name()
	n := s.calls[key]
	s.calls[key] = n + 1
	s.mu.Unlock()

	if len(entries) == 0 {
		return nil, fmt.Errorf("no scripted output for phase %s", phase.Name())
	}
	if n >= len(entries) {
		n = len(entries) - 1
	}
	entry := entries[n]
	if m, ok := entry.(map[string]any); ok {
		if msg, ok := m["error"]; ok {
			return nil, errors.New(fmt.Sprint(msg))
		}
	}
	if raw, ok := entry.(string); ok {
		// Strings are passed through untouched so fixtures can carry malformed output.
		return json.RawMessage(raw), nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode scripted output: %w", err)
	}
	return data, nil
}
