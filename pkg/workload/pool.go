package workload

import (
	"math"

	"k8s.io/klog/v2"

	"render-budget-controller/pkg/constants"
	"render-budget-controller/pkg/util"
)

// Config holds the immutable pool layout parameters.
type Config struct {
	// Columns is the grid width used to place units.
	Columns int
	// Spacing is the distance between adjacent grid columns.
	Spacing float64
	// RowOffset shifts every row away from the origin.
	RowOffset float64
	// EmittersPerUnit is how many emission-capable sub-resources each
	// unit is created with.
	EmittersPerUnit int
	// ParticleControlEnabled gates whether SetParticleBudget applies the
	// budget or only records it.
	ParticleControlEnabled bool
}

// DefaultConfig returns the pool defaults used by the driver loop.
func DefaultConfig() Config {
	return Config{
		Columns:                10,
		Spacing:                1.5,
		RowOffset:              2.0,
		EmittersPerUnit:        1,
		ParticleControlEnabled: true,
	}
}

// Position is a unit's placement in the grid layout.
type Position struct {
	X, Y, Z float64
}

// Emitter is one emission-capable sub-resource of a unit.
type Emitter struct {
	// Rate is the applied emission rate (items per second).
	Rate float64
	// Enabled is false when the per-emitter rate is zero; the emitter is
	// shut off entirely rather than run at a near-zero rate.
	Enabled bool
	// MaxBuffered caps buffered items so a later rate increase cannot
	// accumulate unbounded backlog.
	MaxBuffered int
}

// setRate applies one equal share of the pool budget to this emitter.
func (e *Emitter) setRate(rate float64) {
	if rate <= 0 {
		e.Rate = 0
		e.Enabled = false
		e.MaxBuffered = 0
		return
	}
	e.Rate = rate
	e.Enabled = true
	e.MaxBuffered = util.ClampInt(int(math.Ceil(rate*2)), 0, constants.EmitterBufferCap)
}

// Unit is one renderable workload item. Units are owned exclusively by
// the Pool and created/destroyed only through SetCount.
type Unit struct {
	Index    int
	Position Position
	Emitters []*Emitter

	alive bool
}

// Alive reports whether the unit is still owned by the pool.
func (u *Unit) Alive() bool { return u != nil && u.alive }

// Pool owns a variable-size collection of renderable units arranged on a
// grid, and distributes a global emission-rate budget equally across
// their emitters.
type Pool struct {
	cfg Config

	units        []*Unit
	emitterCache []*Emitter

	// currentBudget is the last requested budget, recorded even when
	// particle control is disabled or no emitters exist yet.
	currentBudget float64
	budgetSet     bool
}

// NewPool creates an empty pool. Zero or negative layout parameters fall
// back to defaults so a partially filled Config cannot wedge placement.
func NewPool(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.Columns <= 0 {
		cfg.Columns = def.Columns
	}
	if cfg.Spacing <= 0 {
		cfg.Spacing = def.Spacing
	}
	if cfg.EmittersPerUnit < 0 {
		cfg.EmittersPerUnit = 0
	}
	return &Pool{cfg: cfg}
}

// gridPosition places unit i on the grid: column spreads along X, row
// recedes along Y below the offset.
func (p *Pool) gridPosition(i int) Position {
	row := i / p.cfg.Columns
	col := i % p.cfg.Columns
	return Position{
		X: (float64(col) - float64(p.cfg.Columns)/2) * p.cfg.Spacing,
		Y: -float64(row)*p.cfg.Spacing*0.6 - p.cfg.RowOffset,
		Z: 0,
	}
}

// SetCount resizes the pool to n units. Growth appends units at the end;
// shrink destroys the most-recently-created units first so surviving
// grid positions never move. The emitter cache is rebuilt after any size
// change and a previously set budget is re-applied to it.
func (p *Pool) SetCount(n int) {
	if n < 0 {
		n = 0
	}
	cur := len(p.units)
	if n == cur {
		return
	}

	if n > cur {
		for i := cur; i < n; i++ {
			u := &Unit{
				Index:    i,
				Position: p.gridPosition(i),
				alive:    true,
			}
			for e := 0; e < p.cfg.EmittersPerUnit; e++ {
				u.Emitters = append(u.Emitters, &Emitter{})
			}
			p.units = append(p.units, u)
		}
	} else {
		for i := cur - 1; i >= n; i-- {
			if p.units[i] != nil {
				p.units[i].alive = false
			}
		}
		p.units = p.units[:n]
	}

	p.rebuildEmitterCache()
	if p.budgetSet {
		p.applyBudget(p.currentBudget)
	}

	klog.V(4).Infof("Pool resized %d->%d units (%d cached emitters)", cur, n, len(p.emitterCache))
}

// rebuildEmitterCache rescans all live units for emitters. Destroyed or
// nil units are skipped silently.
func (p *Pool) rebuildEmitterCache() {
	p.emitterCache = p.emitterCache[:0]
	for _, u := range p.units {
		if !u.Alive() {
			continue
		}
		for _, e := range u.Emitters {
			if e == nil {
				continue
			}
			p.emitterCache = append(p.emitterCache, e)
		}
	}
}

// SetParticleBudget records total as the current emission budget and,
// when particle control is enabled, distributes it equally across all
// cached emitters. Calling with control disabled still records the value
// so a later enable (or resize) applies it.
func (p *Pool) SetParticleBudget(total float64) {
	if total < 0 {
		total = 0
	}
	p.currentBudget = total
	p.budgetSet = true

	if !p.cfg.ParticleControlEnabled {
		klog.V(4).Infof("Particle control disabled, recorded budget %.1f without applying", total)
		return
	}
	p.applyBudget(total)
}

// applyBudget splits total across the emitter cache. With no emitters
// the budget stays recorded and is applied on the next resize.
func (p *Pool) applyBudget(total float64) {
	n := len(p.emitterCache)
	if n == 0 {
		klog.V(4).Infof("No emitters present, budget %.1f recorded but not applied", total)
		return
	}
	per := total / float64(n)
	for _, e := range p.emitterCache {
		e.setRate(per)
	}
	klog.V(4).Infof("Applied particle budget %.1f over %d emitters (%.2f each)", total, n, per)
}

// ParticleBudget recomputes the effective budget by summing live emitter
// rates. This is ground truth, not the last commanded value: it diverges
// deliberately when emitters were mutated or destroyed externally.
func (p *Pool) ParticleBudget() float64 {
	var sum float64
	for _, e := range p.emitterCache {
		if e == nil || !e.Enabled {
			continue
		}
		sum += e.Rate
	}
	return sum
}

// Count returns the number of units currently owned by the pool.
func (p *Pool) Count() int { return len(p.units) }

// Units returns the live unit list. Callers must not resize it.
func (p *Pool) Units() []*Unit { return p.units }

// CountActiveRenderers counts live units.
func (p *Pool) CountActiveRenderers() int {
	n := 0
	for _, u := range p.units {
		if u.Alive() {
			n++
		}
	}
	return n
}

// CountActiveParticleSystems counts cached emitters that are currently
// enabled.
func (p *Pool) CountActiveParticleSystems() int {
	n := 0
	for _, e := range p.emitterCache {
		if e != nil && e.Enabled {
			n++
		}
	}
	return n
}
