package aggregate

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"quotewatch/internal/provider"
)

// Picker chooses symbols from a fixed universe. A fixed seed gives a
// reproducible sequence.
type Picker struct {
	mu       sync.Mutex
	rng      *rand.Rand
	universe []string
}

func NewPicker(seed uint64, universe []string) (*Picker, error) {
	syms := make([]string, 0, len(universe))
	for _, u := range universe {
		sym, err := provider.NormalizeSymbol(u)
		if err != nil {
			return nil, err
		}
		syms = append(syms, sym)
	}
	if len(syms) == 0 {
		return nil, errors.New("aggregate: discovery universe is empty")
	}
	return &Picker{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), universe: syms}, nil
}

func (p *Picker) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.universe[p.rng.IntN(len(p.universe))]
}

// Discover returns the quote of a randomly picked listed stock.
func (s *Service) Discover(ctx context.Context, p *Picker) (*provider.Quote, error) {
	return s.GetQuote(ctx, p.Pick())
}
