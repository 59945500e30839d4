package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/volsurface/internal/bucket"
	"github.com/dgnsrekt/volsurface/internal/config"
	"github.com/dgnsrekt/volsurface/internal/surface"
)

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func obs(k surface.Key, exp time.Time, iv float64, n int, q bucket.Quality, level int) bucket.Observation {
	return bucket.Observation{
		Key:            k,
		Expiration:     exp,
		DeltaBucket:    config.BucketDef{Code: k.DeltaCode, Rep: 25, Low: 22.5, High: 28.5},
		DTEBucket:      config.BucketDef{Code: k.DTECode, Rep: 30, Low: 27, High: 37.5},
		IV:             iv,
		IVATM:          0.2,
		Skew:           iv / 10,
		Term:           0.01,
		SpreadPct:      0.05,
		Spot:           500,
		DeltaMed:       25,
		DTEMed:         30,
		PnLShort:       0.1,
		N:              n,
		Quality:        q,
		NContractsUsed: 3,
		ExpansionLevel: level,
	}
}

func TestRowsReducesAcrossExpirations(t *testing.T) {
	k := surface.Key{Date: day, BucketKey: surface.BucketKey{Wing: surface.Put, DeltaCode: "d25", DTECode: "t30"}}
	e1, e2, e3 := day.AddDate(0, 0, 28), day.AddDate(0, 0, 30), day.AddDate(0, 0, 35)

	leader := surface.EmptyLeader()
	leader.Strike = 480

	rows := Rows([]bucket.Observation{
		obs(k, e1, 0.20, 4, bucket.QualityGood, 0),
		obs(k, e2, 0.22, 5, bucket.QualityExcellent, 1),
		obs(k, e3, 0.30, 6, bucket.QualityGood, 1),
	}, map[surface.Key]surface.Leader{k: leader})

	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, surface.Float(0.22), r.IV)
	assert.InDelta(t, 0.21, float64(r.IVP25), 1e-12)
	assert.InDelta(t, 0.26, float64(r.IVP75), 1e-12)
	assert.Equal(t, surface.Float(15), r.N)
	assert.Equal(t, surface.Float(3), r.NExps)
	assert.Equal(t, string(bucket.QualityGood), r.InterpQuality)
	assert.Equal(t, 1, r.ExpansionLevel)
	assert.Equal(t, surface.Float(480), r.Leader.Strike)
	assert.Equal(t, 25.0, r.DeltaRep)

	assert.True(t, r.IsRealData)
	assert.False(t, r.IsForwardFilled)
	assert.Equal(t, surface.TierReal, r.DataQuality)
}

func TestModalQualityTieBreak(t *testing.T) {
	tags := []bucket.Quality{bucket.QualityPoor, bucket.QualityGood, bucket.QualityPoor, bucket.QualityGood}
	assert.Equal(t, bucket.QualityGood, ModalQuality(tags))

	assert.Equal(t, bucket.QualityMedian, ModalQuality([]bucket.Quality{bucket.QualityMedian}))
}

func TestRowsOrdering(t *testing.T) {
	put := surface.Key{Date: day, BucketKey: surface.BucketKey{Wing: surface.Put, DeltaCode: "d25", DTECode: "t30"}}
	call := surface.Key{Date: day, BucketKey: surface.BucketKey{Wing: surface.Call, DeltaCode: "d25", DTECode: "t30"}}
	earlier := surface.Key{Date: day.AddDate(0, 0, -1), BucketKey: call.BucketKey}

	rows := Rows([]bucket.Observation{
		obs(call, day, 0.2, 3, bucket.QualityGood, 0),
		obs(put, day, 0.2, 3, bucket.QualityGood, 0),
		obs(earlier, day, 0.2, 3, bucket.QualityGood, 0),
	}, nil)

	require.Len(t, rows, 3)
	assert.Equal(t, earlier, rows[0].Key())
	assert.Equal(t, put, rows[1].Key())
	assert.Equal(t, call, rows[2].Key())
}
