package orchestrator

import (
	"context"
	"fmt"

	"github.com/twomile/harmonics/llm"
	"github.com/twomile/harmonics/stream"
)

// TurnState tracks a turn through its lifecycle. Transitions only move
// forward: pending → running → converged → appended.
type TurnState string

const (
	TurnPending   TurnState = "pending"
	TurnRunning   TurnState = "running"
	TurnConverged TurnState = "converged"
	TurnAppended  TurnState = "appended"
)

var turnTransitions = map[TurnState]TurnState{
	TurnPending:   TurnRunning,
	TurnRunning:   TurnConverged,
	TurnConverged: TurnAppended,
}

// Turn is one full refinement cycle over a prompt, owned exclusively by
// its session and immutable once appended.
type Turn struct {
	Index  int
	Prompt string
	Rounds []*Round
	Output string

	state TurnState
}

// State returns the turn's current lifecycle state.
func (t *Turn) State() TurnState { return t.state }

func (t *Turn) transition(to TurnState) error {
	if turnTransitions[t.state] != to {
		return fmt.Errorf("invalid turn transition %s -> %s", t.state, to)
	}
	t.state = to
	return nil
}

// runTurn executes the fixed round count, feeding each round's combined
// output back in as the next round's prompt. There is no early-exit
// convergence test: the round count is exhaustive. A round with zero
// usable responses aborts the turn and surfaces a failure event rather
// than silently advancing.
func (m *Manager) runTurn(ctx context.Context, s *Session, idx int, prompt string) (*Turn, error) {
	t := &Turn{Index: idx, Prompt: prompt, state: TurnPending}
	if err := t.transition(TurnRunning); err != nil {
		return nil, err
	}

	current := prompt
	for r := 1; r <= m.iterations; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		round, err := m.runRound(ctx, s, idx, r, current)
		if err != nil {
			if llm.CodeOf(err) == llm.ErrAllBackendsFailed {
				m.broadcaster.Publish(stream.NewFailure(idx, r, string(llm.ErrAllBackendsFailed), err.Error()))
			}
			return nil, err
		}

		t.Rounds = append(t.Rounds, round)
		current = round.Combined
	}

	t.Output = current
	if err := t.transition(TurnConverged); err != nil {
		return nil, err
	}
	m.broadcaster.Publish(stream.NewTurnCombined(idx, t.Output))

	return t, nil
}
