package bucket

import (
	"math"

	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/extract"
	"github.com/dgnsrekt/volsurface/internal/stats"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

const (
	tieEpsilon       = 1e-12
	minWidth         = 1e-9
	minTypicalSpread = 1e-6
	fallbackSpread   = 0.02
)

// scored is a leader candidate with its ranking inputs.
type scored struct {
	candidate
	score     float64
	deltaDist float64
}

// better reports whether a should replace b as leader: a strictly lower score,
// or a score within tieEpsilon and then a lower spread, then a delta closer
// to the bucket's target.
func better(a, b scored) bool {
	if math.Abs(a.score-b.score) >= tieEpsilon {
		return a.score < b.score
	}
	if a.SpreadPct != b.SpreadPct {
		return a.SpreadPct < b.SpreadPct
	}
	return a.deltaDist < b.deltaDist
}

// selectLeader scores every candidate and returns the best one. Candidates are
// scored against the bucket's own (un-expanded) ranges.
func selectLeader(cands []candidate, db, tb config.BucketDef, useVolume bool) (scored, bool) {
	if len(cands) == 0 {
		return scored{}, false
	}
	widthD := math.Max(db.High-db.Low, minWidth)
	widthT := math.Max(tb.High-tb.Low, minWidth)

	spreads := make([]float64, len(cands))
	maxVol := 0.0
	for i, c := range cands {
		spreads[i] = c.SpreadPct
		if c.Volume > maxVol {
			maxVol = c.Volume
		}
	}
	typical := stats.Median(spreads)
	if !(typical > minTypicalSpread) {
		typical = fallbackSpread
	}
	withVolume := useVolume && maxVol > 0

	var best scored
	for i, c := range cands {
		dd := math.Abs(c.DeltaAbs*100 - db.Rep)
		td := math.Abs(c.DTE - tb.Rep)
		dTerm := dd / widthD
		tTerm := td / widthT
		sTerm := c.SpreadPct / typical

		var score float64
		if withVolume {
			vol := c.Volume
			if math.IsNaN(vol) {
				vol = 0
			}
			score = 0.4*dTerm + 0.2*tTerm + 0.2*sTerm + 0.2*(1-vol/maxVol)
		} else {
			score = dTerm + 0.5*tTerm + 0.5*sTerm
		}

		s := scored{candidate: c, score: score, deltaDist: dd}
		if i == 0 || better(s, best) {
			best = s
		}
	}
	return best, true
}

// leaderRecord fills the persisted leader fields, pairing the mid-session
// quote with the median close mid of the same strike.
func leaderRecord(s scored, closeBloc []extract.Contract) surface.Leader {
	var closes []float64
	for _, c := range closeBloc {
		if c.Strike == s.Strike {
			closes = append(closes, c.Mid)
		}
	}
	midClose := stats.Median(closes)

	return surface.Leader{
		Expiration: s.Expiration,
		Strike:     surface.Float(s.Strike),
		DTE:        surface.Float(s.DTE),
		Score:      surface.Float(s.score),
		SpreadPct:  surface.Float(s.SpreadPct),
		DeltaPct:   surface.Float(s.DeltaAbs * 100),
		BidMid:     surface.Float(s.Bid),
		AskMid:     surface.Float(s.Ask),
		MidMid:     surface.Float(s.Mid),
		MidClose:   surface.Float(midClose),
		PnLShort:   surface.Float(s.Mid - midClose),
	}
}

// LeaderBook keeps the best leader per key while candidates are offered.
// Each key's score never increases as candidates are evaluated.
type LeaderBook struct {
	best    map[surface.Key]scored
	records map[surface.Key]surface.Leader
}

// NewLeaderBook returns an empty book.
func NewLeaderBook() *LeaderBook {
	return &LeaderBook{best: make(map[surface.Key]scored), records: make(map[surface.Key]surface.Leader)}
}

// Offer records s for k when no leader exists yet or s is better. It reports
// whether the leader changed.
func (b *LeaderBook) Offer(k surface.Key, s scored, closeBloc []extract.Contract) bool {
	if prev, ok := b.best[k]; ok && !better(s, prev) {
		return false
	}
	b.best[k] = s
	b.records[k] = leaderRecord(s, closeBloc)
	return true
}

// Leaders returns the selected leader per key.
func (b *LeaderBook) Leaders() map[surface.Key]surface.Leader {
	return b.records
}
