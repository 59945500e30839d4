package surface

import (
	"fmt"
	"time"
)

// Wing is the option side of the chain.
type Wing string

const (
	Put  Wing = "PUT"
	Call Wing = "CALL"
)

// WingFromRight maps an option right ("P", "put", "C", ...) to a Wing.
func WingFromRight(right string) (Wing, bool) {
	switch right {
	case "P", "p", "PUT", "put", "Put":
		return Put, true
	case "C", "c", "CALL", "call", "Call":
		return Call, true
	}
	return "", false
}

// Tier classifies how a row's values were obtained.
type Tier string

const (
	TierReal   Tier = "REAL"
	TierHigh   Tier = "HIGH"
	TierMedium Tier = "MEDIUM"
	TierLow    Tier = "LOW"
	TierStale  Tier = "STALE"
)

// Origin tags where a row came from within one run. It is never persisted:
// rows loaded from a prior surface are Carried, everything else is Fresh.
type Origin int

const (
	// Fresh rows were produced in this run, either from input files or by reindexing.
	Fresh Origin = iota
	// Carried rows came from a previously persisted surface and keep their flags.
	Carried
)

// BucketKey identifies one cell of the grid independent of date.
type BucketKey struct {
	Wing      Wing   `json:"wing"`
	DeltaCode string `json:"delta_code"`
	DTECode   string `json:"dte_code"`
}

func (b BucketKey) String() string {
	return fmt.Sprintf("%s/%s/%s", b.Wing, b.DeltaCode, b.DTECode)
}

// Key is the unique identity of a SurfaceRow.
type Key struct {
	Date time.Time
	BucketKey
}

func (k Key) String() string {
	return k.Date.Format("2006-01-02") + "/" + k.BucketKey.String()
}

// Leader is the single most representative contract of a bucket-day.
type Leader struct {
	Expiration time.Time `json:"expiration,omitzero"`
	Strike     Float     `json:"strike"`
	DTE        Float     `json:"dte"`
	Score      Float     `json:"score"`
	SpreadPct  Float     `json:"spread_pct"`
	DeltaPct   Float     `json:"delta_pct"`
	BidMid     Float     `json:"bid_mid"`
	AskMid     Float     `json:"ask_mid"`
	MidMid     Float     `json:"mid_mid"`
	MidClose   Float     `json:"mid_close"`
	PnLShort   Float     `json:"pnl_short"`
}

// EmptyLeader returns a leader with every field null.
func EmptyLeader() Leader {
	n := Null()
	return Leader{Strike: n, DTE: n, Score: n, SpreadPct: n, DeltaPct: n, BidMid: n, AskMid: n, MidMid: n, MidClose: n, PnLShort: n}
}

// ZScore is one rolling mean/deviation/z triple.
type ZScore struct {
	SMA Float `json:"sma"`
	SD  Float `json:"sd"`
	Z   Float `json:"z"`
}

// WindowStats holds the percentile engine output for one lookback window.
type WindowStats struct {
	Window   int    `json:"window"`
	IVPct    Float  `json:"iv_pct"`
	SkewPct  Float  `json:"skew_pct"`
	VRPPct   Float  `json:"vrp_pct"`
	Coverage Float  `json:"coverage"`
	Score    Float  `json:"score"`
	Level    int    `json:"level,omitempty"`
	Label    string `json:"label"`
}

// Row is one (date, wing, delta bucket, DTE bucket) entry of the surface.
type Row struct {
	Date time.Time `json:"date"`
	BucketKey

	DeltaRep  float64 `json:"delta_rep"`
	DeltaLow  float64 `json:"delta_low"`
	DeltaHigh float64 `json:"delta_high"`
	DTERep    float64 `json:"dte_rep"`
	DTELow    float64 `json:"dte_low"`
	DTEHigh   float64 `json:"dte_high"`

	IV        Float `json:"iv"`
	IVATM     Float `json:"iv_atm"`
	Skew      Float `json:"skew"`
	Term      Float `json:"term"`
	SpreadPct Float `json:"spread_pct"`
	Spot      Float `json:"spot"`
	DeltaMed  Float `json:"delta_med"`
	DTEMed    Float `json:"dte_med"`
	N         Float `json:"n"`
	NExps     Float `json:"n_exps"`
	PnLShort  Float `json:"pnl_short"`

	DeltaP25 Float `json:"delta_p25"`
	DeltaP75 Float `json:"delta_p75"`
	DTEP25   Float `json:"dte_p25"`
	DTEP75   Float `json:"dte_p75"`
	IVP25    Float `json:"iv_p25"`
	IVP75    Float `json:"iv_p75"`
	SkewP25  Float `json:"skew_p25"`
	SkewP75  Float `json:"skew_p75"`

	InterpQuality  string `json:"interp_quality"`
	NContractsUsed Float  `json:"n_contracts_used"`
	ExpansionLevel int    `json:"expansion_level"`

	Leader Leader `json:"leader"`

	IsRealData        bool `json:"is_real_data"`
	IsForwardFilled   bool `json:"is_forward_filled"`
	DaysSinceRealData int  `json:"days_since_real_data"`
	DataQuality       Tier `json:"data_quality"`

	HV          map[int]Float `json:"hv"`
	HVLag       Float         `json:"hv_lag"`
	IVATMFilled Float         `json:"iv_atm_filled"`
	VRPVol      Float         `json:"vrp_vol"`
	VRPVar      Float         `json:"vrp_var"`

	IVATM30D  Float          `json:"iv_atm_30d"`
	IVZ       map[int]ZScore `json:"iv_z"`
	IVStd1Up  Float          `json:"iv_std1_up"`
	IVStd1Low Float          `json:"iv_std1_low"`
	IVStd2Up  Float          `json:"iv_std2_up"`
	IVStd2Low Float          `json:"iv_std2_low"`

	SkewZ ZScore `json:"skew_z"`

	Windows []WindowStats `json:"windows"`

	Origin Origin `json:"-"`
}

// NewRow returns a row for key with every metric null and no provenance yet.
func NewRow(k Key) Row {
	n := Null()
	return Row{
		Date:           k.Date,
		BucketKey:      k.BucketKey,
		IV:             n,
		IVATM:          n,
		Skew:           n,
		Term:           n,
		SpreadPct:      n,
		Spot:           n,
		DeltaMed:       n,
		DTEMed:         n,
		N:              n,
		NExps:          n,
		PnLShort:       n,
		DeltaP25:       n,
		DeltaP75:       n,
		DTEP25:         n,
		DTEP75:         n,
		IVP25:          n,
		IVP75:          n,
		SkewP25:        n,
		SkewP75:        n,
		NContractsUsed: n,
		Leader:         EmptyLeader(),
		HVLag:          n,
		IVATMFilled:    n,
		VRPVol:         n,
		VRPVar:         n,
		IVATM30D:       n,
		IVStd1Up:       n,
		IVStd1Low:      n,
		IVStd2Up:       n,
		IVStd2Low:      n,
		SkewZ:          ZScore{SMA: n, SD: n, Z: n},
	}
}

// Key returns the row's identity.
func (r *Row) Key() Key {
	return Key{Date: r.Date, BucketKey: r.BucketKey}
}

// Clone returns a deep copy of r.
func (r Row) Clone() Row {
	out := r
	if r.HV != nil {
		out.HV = make(map[int]Float, len(r.HV))
		for k, v := range r.HV {
			out.HV[k] = v
		}
	}
	if r.IVZ != nil {
		out.IVZ = make(map[int]ZScore, len(r.IVZ))
		for k, v := range r.IVZ {
			out.IVZ[k] = v
		}
	}
	if r.Windows != nil {
		out.Windows = append([]WindowStats(nil), r.Windows...)
	}
	return out
}

// Window returns the stats for window w, or nil if absent.
func (r *Row) Window(w int) *WindowStats {
	for i := range r.Windows {
		if r.Windows[i].Window == w {
			return &r.Windows[i]
		}
	}
	return nil
}

// SetWindow replaces or appends the stats for ws.Window.
func (r *Row) SetWindow(ws WindowStats) {
	if cur := r.Window(ws.Window); cur != nil {
		*cur = ws
		return
	}
	r.Windows = append(r.Windows, ws)
}

// IsPhantom reports a reindex artifact with neither identity nor a value.
func (r *Row) IsPhantom() bool {
	return r.Wing == "" && r.DeltaCode == "" && r.DTECode == "" && !r.IV.Valid()
}
