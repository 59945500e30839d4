package surface

import (
	"bytes"
	"encoding/json"
	"math"
)

// Float is a nullable float64. NaN is the null value, so arithmetic and
// comparisons behave the way missing data should, and JSON carries it as null.
type Float float64

// Null returns the null Float.
func Null() Float { return Float(math.NaN()) }

// Valid reports whether f holds a finite value.
func (f Float) Valid() bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Or returns f when valid, otherwise def.
func (f Float) Or(def float64) float64 {
	if f.Valid() {
		return float64(f)
	}
	return def
}

func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(f))
}

func (f *Float) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = Null()
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}
