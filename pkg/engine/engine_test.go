package engine

import (
	"testing"

	"github.com/openfroyo/pdreach/pkg/pds"
)

// Ids of the fixture built by callModel.
const (
	sp = 0
	sq = 1
	sr = 2

	la pds.Label = 0
	lb pds.Label = 1
)

// callModel: p calls q pushing b, q returns to p, and the state r can only
// jump into p.
func callModel(t *testing.T) *pds.PDA {
	t.Helper()
	model, err := pds.NewBuilder("calls").States("p", "q", "err_r").Labels("a", "b").
		Rule("p", "a", "q", pds.Push, "b").
		Rule("q", "b", "p", pds.Pop, "").
		Rule("err_r", "a", "p", pds.Swap, "a").
		Build()
	if err != nil {
		t.Fatalf("Failed to build model: %v", err)
	}
	return model
}

func cfg(state int, stack ...pds.Label) Config {
	return Config{State: state, Stack: stack}
}
