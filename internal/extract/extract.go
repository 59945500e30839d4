// Package extract turns one day's raw quotes into the filtered mid-session
// and close snapshots the bucket engine works from.
package extract

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/quotes"
	"github.com/dgnsrekt/volsurface/internal/stats"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

var (
	// ErrEmptyWindow means no quote fell inside the mid-session window.
	ErrEmptyWindow = errors.New("mid-session window is empty")
	// ErrNoContracts means every mid-session quote failed the quality filters.
	ErrNoContracts = errors.New("no contracts passed quality filters")
)

const (
	termTarget = 30.0
	termLow    = 20.0
	termHigh   = 40.0
)

// Contract is a quote that survived filtering, with derived fields.
type Contract struct {
	Wing        surface.Wing
	Expiration  time.Time
	DTE         float64
	Strike      float64
	Bid         float64
	Ask         float64
	Mid         float64
	IV          float64
	Delta       float64 // signed, on a 0-1 scale
	DeltaAbs    float64
	Spread      float64
	SpreadPct   float64
	AskBidRatio float64
	Volume      float64
}

// ATM is the at-the-money reference of one expiration.
type ATM struct {
	IV     float64
	Strike float64
	DTE    float64
}

// Snapshot is the extractor output for one file.
type Snapshot struct {
	Date       time.Time
	Mid        []Contract
	Close      []Contract
	ATM        map[time.Time]ATM
	IVATM30D   float64
	Spot       float64
	DeltaScale float64
	HasVolume  bool
}

// Expirations returns the expirations that have an ATM reference, ascending.
func (s *Snapshot) Expirations() []time.Time {
	out := make([]time.Time, 0, len(s.ATM))
	for e := range s.ATM {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Extractor selects and filters snapshots. It holds only read-only settings.
type Extractor struct {
	filters  config.FilterConfig
	midMs    int64
	midTol   int64
	closeMs  int64
	closeTol int64
}

// New builds an Extractor from configuration.
func New(snap config.SnapshotConfig, filters config.FilterConfig) (*Extractor, error) {
	mid, err := snap.MidSessionMs()
	if err != nil {
		return nil, err
	}
	cl, err := snap.CloseMs()
	if err != nil {
		return nil, err
	}
	return &Extractor{
		filters:  filters,
		midMs:    mid,
		midTol:   snap.MidSessionTolerance.Milliseconds(),
		closeMs:  cl,
		closeTol: snap.CloseTolerance.Milliseconds(),
	}, nil
}

// Extract builds the snapshot for date from a parsed quote table.
func (e *Extractor) Extract(date time.Time, tbl *quotes.Table) (*Snapshot, error) {
	var midRaw, closeRaw []quotes.Quote
	for _, q := range tbl.Quotes {
		switch {
		case abs64(q.MsOfDay-e.midMs) <= e.midTol:
			midRaw = append(midRaw, q)
		case abs64(q.MsOfDay-e.closeMs) <= e.closeTol:
			closeRaw = append(closeRaw, q)
		}
	}
	if len(midRaw) == 0 {
		return nil, ErrEmptyWindow
	}

	snap := &Snapshot{
		Date:       date,
		ATM:        make(map[time.Time]ATM),
		IVATM30D:   math.NaN(),
		DeltaScale: deltaScale(midRaw),
		HasVolume:  tbl.HasVolume,
	}

	spots := make([]float64, 0, len(midRaw))
	for _, q := range midRaw {
		spots = append(spots, q.Underlying)
	}
	snap.Spot = stats.Median(spots)

	snap.Mid = e.filter(date, midRaw, snap.DeltaScale, true)
	snap.Close = e.filter(date, closeRaw, snap.DeltaScale, false)
	if len(snap.Mid) == 0 {
		return nil, ErrNoContracts
	}

	snap.ATM = atmByExpiration(snap.Mid)
	snap.IVATM30D = termIV(snap.ATM)
	return snap, nil
}

// filter applies the quote-quality rules and derives per-contract fields.
func (e *Extractor) filter(date time.Time, raw []quotes.Quote, scale float64, requireIV bool) []Contract {
	f := e.filters
	out := make([]Contract, 0, len(raw))
	for _, q := range raw {
		wing, ok := surface.WingFromRight(q.Right)
		if !ok || q.Expiration.IsZero() {
			continue
		}
		if !(q.Mid > 0) || !(q.Mid >= f.MinPremium) {
			continue
		}
		if requireIV && math.IsNaN(q.IV) {
			continue
		}
		if !(q.Bid <= q.Ask) {
			continue
		}
		if f.RequirePositiveBid && !(q.Bid > 0) {
			continue
		}
		if f.RequirePositiveAsk && !(q.Ask > 0) {
			continue
		}

		spread := q.Ask - q.Bid
		spreadPct := spread / q.Mid
		ratio := q.Ask / q.Bid
		if !(spread <= f.MaxSpreadAbs) || !(spreadPct <= f.MaxSpreadPct) || !(ratio <= f.MaxAskBidRatio) {
			continue
		}

		delta := q.Delta / scale
		out = append(out, Contract{
			Wing:        wing,
			Expiration:  q.Expiration,
			DTE:         math.Round(q.Expiration.Sub(date).Hours() / 24),
			Strike:      q.Strike,
			Bid:         q.Bid,
			Ask:         q.Ask,
			Mid:         q.Mid,
			IV:          q.IV,
			Delta:       delta,
			DeltaAbs:    math.Abs(delta),
			Spread:      spread,
			SpreadPct:   spreadPct,
			AskBidRatio: ratio,
			Volume:      q.Volume,
		})
	}
	return out
}

// deltaScale returns 100 when deltas are quoted in points, else 1.
func deltaScale(raw []quotes.Quote) float64 {
	maxAbs := 0.0
	for _, q := range raw {
		if !math.IsNaN(q.Delta) {
			maxAbs = math.Max(maxAbs, math.Abs(q.Delta))
		}
	}
	if maxAbs > 2 {
		return 100
	}
	return 1
}

// atmByExpiration picks, per expiration, the contract whose |delta| is closest
// to 0.5. The first such contract in input order wins ties.
func atmByExpiration(cs []Contract) map[time.Time]ATM {
	type best struct {
		dist float64
		atm  ATM
	}
	found := make(map[time.Time]best)
	for _, c := range cs {
		if math.IsNaN(c.DeltaAbs) || math.IsNaN(c.IV) {
			continue
		}
		d := math.Abs(c.DeltaAbs - 0.5)
		if b, ok := found[c.Expiration]; ok && d >= b.dist {
			continue
		}
		found[c.Expiration] = best{dist: d, atm: ATM{IV: c.IV, Strike: c.Strike, DTE: c.DTE}}
	}
	out := make(map[time.Time]ATM, len(found))
	for e, b := range found {
		out[e] = b.atm
	}
	return out
}

// termIV returns the ATM IV of the expiration closest to 30 days among those
// within [20, 40] days. The earlier expiration wins ties.
func termIV(atm map[time.Time]ATM) float64 {
	exps := make([]time.Time, 0, len(atm))
	for e := range atm {
		exps = append(exps, e)
	}
	sort.Slice(exps, func(i, j int) bool { return exps[i].Before(exps[j]) })

	iv, bestDist := math.NaN(), math.Inf(1)
	for _, e := range exps {
		a := atm[e]
		if a.DTE < termLow || a.DTE > termHigh || math.IsNaN(a.IV) {
			continue
		}
		if d := math.Abs(a.DTE - termTarget); d < bestDist {
			iv, bestDist = a.IV, d
		}
	}
	return iv
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// String summarises a snapshot for logging.
func (s *Snapshot) String() string {
	return fmt.Sprintf("%s mid=%d close=%d expirations=%d", s.Date.Format("2006-01-02"), len(s.Mid), len(s.Close), len(s.ATM))
}
