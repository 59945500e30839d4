// Package bucket maps filtered contracts onto the delta x DTE grid and derives
// one representative observation and one leader contract per cell.
package bucket

import (
	"math"
	"time"

	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/extract"
	"github.com/dgnsrekt/volsurface/internal/stats"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

// Expansion levels tag how a contract entered a candidate set.
const (
	LevelInRange  = 0
	LevelExpanded = 1
)

// candidate is a contract tagged with its expansion level.
type candidate struct {
	extract.Contract
	Level int
}

// Observation is one (day, wing, delta bucket, DTE bucket, expiration) result.
type Observation struct {
	Key        surface.Key
	Expiration time.Time

	DeltaBucket config.BucketDef
	DTEBucket   config.BucketDef

	IV          float64
	IVATM       float64
	Skew        float64
	Term        float64
	SpreadPct   float64
	Spot        float64
	DeltaMed    float64
	DTEMed      float64
	InterpDelta float64
	InterpDTE   float64
	PnLShort    float64

	N              int
	Quality        Quality
	NContractsUsed int
	ExpansionLevel int
}

// Result is the bucket engine output for one snapshot.
type Result struct {
	Date         time.Time
	Observations []Observation
	Leaders      map[surface.Key]surface.Leader
}

// Engine resolves snapshots against the configured grids.
type Engine struct {
	cfg   config.BucketConfig
	delta Grid
	dte   Grid
}

// New builds an Engine. The grids are copied and never modified.
func New(cfg config.BucketConfig) *Engine {
	return &Engine{cfg: cfg, delta: NewGrid(cfg.Delta), dte: NewGrid(cfg.DTE)}
}

// DeltaGrid returns the delta grid.
func (e *Engine) DeltaGrid() Grid { return e.delta }

// DTEGrid returns the DTE grid.
func (e *Engine) DTEGrid() Grid { return e.dte }

// Resolve walks every expiration, wing and delta bucket of the snapshot.
func (e *Engine) Resolve(snap *extract.Snapshot) *Result {
	book := NewLeaderBook()
	res := &Result{Date: snap.Date}

	byExp := groupByExpiration(snap.Mid)
	closeByExp := groupByExpiration(snap.Close)

	for _, exp := range snap.Expirations() {
		atm := snap.ATM[exp]
		if math.IsNaN(atm.IV) || math.IsNaN(atm.Strike) {
			continue
		}
		tb, ok := e.dte.Find(atm.DTE)
		if !ok {
			continue
		}
		term := atm.IV - snap.IVATM30D

		for _, wing := range []surface.Wing{surface.Put, surface.Call} {
			bloc := filterWing(byExp[exp], wing)
			if len(bloc) == 0 {
				continue
			}
			closeBloc := filterWing(closeByExp[exp], wing)

			for _, db := range e.delta.Cells() {
				cands, ok := e.candidates(bloc, db, tb)
				if !ok {
					continue
				}

				key := surface.Key{
					Date:      snap.Date,
					BucketKey: surface.BucketKey{Wing: wing, DeltaCode: db.Code, DTECode: tb.Code},
				}
				obs := e.observe(cands, db, tb, wing, atm, term, snap.Spot, closeBloc)
				obs.Key = key
				obs.Expiration = exp
				res.Observations = append(res.Observations, obs)

				if best, ok := selectLeader(cands, db, tb, snap.HasVolume); ok {
					book.Offer(key, best, closeBloc)
				}
			}
		}
	}

	res.Leaders = book.Leaders()
	return res
}

// candidates selects the contracts of one wing/expiration for a delta bucket,
// widening to neighbouring ranges when the bucket is underpopulated. It returns
// false when the bucket must be skipped.
func (e *Engine) candidates(bloc []extract.Contract, db, tb config.BucketDef) ([]candidate, bool) {
	lastD := e.delta.IsLast(db)
	lastT := e.dte.IsLast(tb)

	var inRange []candidate
	for _, c := range bloc {
		if contains(db, c.DeltaAbs*100, lastD) && contains(tb, c.DTE, lastT) {
			inRange = append(inRange, candidate{Contract: c, Level: LevelInRange})
		}
	}

	chosen := inRange
	if e.cfg.ExpansionEnabled && len(inRange) < e.cfg.MinContractsForExpansion {
		expanded := e.expanded(bloc, db, tb, lastD, lastT)
		switch {
		case len(expanded) >= e.cfg.MinContractsForExpansion:
			chosen = expanded
		case len(inRange) > 0:
			chosen = inRange
		default:
			return nil, false
		}
	}

	if len(chosen) < e.cfg.MinPerBucket {
		return nil, false
	}
	return chosen, true
}

// expanded returns contracts within the widened closed ranges. It always
// includes every in-range contract.
func (e *Engine) expanded(bloc []extract.Contract, db, tb config.BucketDef, lastD, lastT bool) []candidate {
	dLo, dHi := expand(db, e.cfg.DeltaMargin, 0, 100)
	tLo, tHi := expand(tb, e.cfg.DTEMargin, 1, math.Inf(1))

	var out []candidate
	for _, c := range bloc {
		dp := c.DeltaAbs * 100
		if !(dp >= dLo && dp <= dHi && c.DTE >= tLo && c.DTE <= tHi) {
			continue
		}
		level := LevelExpanded
		if contains(db, dp, lastD) && contains(tb, c.DTE, lastT) {
			level = LevelInRange
		}
		out = append(out, candidate{Contract: c, Level: level})
	}
	return out
}

func (e *Engine) observe(cands []candidate, db, tb config.BucketDef, wing surface.Wing, atm extract.ATM, term, spot float64, closeBloc []extract.Contract) Observation {
	var rep Interpolated
	if e.cfg.InterpolationEnabled {
		rep = interpolate(cands, db.Rep, tb.Rep)
	} else {
		rep = medianIV(cands)
	}

	spreads := make([]float64, len(cands))
	deltas := make([]float64, len(cands))
	dtes := make([]float64, len(cands))
	levels := [2]int{}
	for i, c := range cands {
		spreads[i] = c.SpreadPct
		deltas[i] = c.DeltaAbs * 100
		dtes[i] = c.DTE
		levels[c.Level]++
	}
	level := LevelInRange
	if levels[LevelExpanded] > levels[LevelInRange] {
		level = LevelExpanded
	}

	return Observation{
		DeltaBucket:    db,
		DTEBucket:      tb,
		IV:             rep.IV,
		IVATM:          atm.IV,
		Skew:           skewSlope(cands, wing, atm.IV, atm.Strike, e.cfg.SkewEpsilon),
		Term:           term,
		SpreadPct:      stats.Median(spreads),
		Spot:           spot,
		DeltaMed:       stats.Median(deltas),
		DTEMed:         stats.Median(dtes),
		InterpDelta:    rep.Delta,
		InterpDTE:      rep.DTE,
		PnLShort:       shortPnL(cands, closeBloc),
		N:              len(cands),
		Quality:        rep.Quality,
		NContractsUsed: rep.Used,
		ExpansionLevel: level,
	}
}

// shortPnL is the median of mid-session minus close mid over contracts
// matched by strike.
func shortPnL(cands []candidate, closeBloc []extract.Contract) float64 {
	byStrike := make(map[float64][]float64)
	for _, c := range closeBloc {
		byStrike[c.Strike] = append(byStrike[c.Strike], c.Mid)
	}
	var pnl []float64
	for _, c := range cands {
		for _, m := range byStrike[c.Strike] {
			pnl = append(pnl, c.Mid-m)
		}
	}
	return stats.Median(pnl)
}

func groupByExpiration(cs []extract.Contract) map[time.Time][]extract.Contract {
	out := make(map[time.Time][]extract.Contract)
	for _, c := range cs {
		out[c.Expiration] = append(out[c.Expiration], c)
	}
	return out
}

func filterWing(cs []extract.Contract, wing surface.Wing) []extract.Contract {
	var out []extract.Contract
	for _, c := range cs {
		if c.Wing == wing {
			out = append(out, c)
		}
	}
	return out
}
