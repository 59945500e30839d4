package config

// BucketDef is one cell of a delta or days-to-expiry grid.
// Ranges are half-open [Low, High) except for the last cell of a grid, which is closed.
type BucketDef struct {
	Code string  `mapstructure:"code" json:"code" validate:"required"`
	Rep  float64 `mapstructure:"rep" json:"rep"`
	Low  float64 `mapstructure:"low" json:"low" validate:"gte=0"`
	High float64 `mapstructure:"high" json:"high" validate:"gtfield=Low"`
}

// DefaultDeltaGrid returns the delta grid in delta points (0-100).
func DefaultDeltaGrid() []BucketDef {
	return []BucketDef{
		{Code: "d4", Rep: 4, Low: 3.0, High: 5.5},
		{Code: "d7", Rep: 7, Low: 5.5, High: 8.5},
		{Code: "d10", Rep: 10, Low: 8.5, High: 12.0},
		{Code: "d14", Rep: 14, Low: 12.0, High: 17.0},
		{Code: "d20", Rep: 20, Low: 17.0, High: 22.5},
		{Code: "d25", Rep: 25, Low: 22.5, High: 28.5},
		{Code: "d32", Rep: 32, Low: 28.5, High: 37.5},
		{Code: "d40", Rep: 40, Low: 37.5, High: 47.5},
		{Code: "d50", Rep: 50, Low: 47.5, High: 57.5},
		{Code: "d60", Rep: 60, Low: 57.5, High: 65.0},
	}
}

// DefaultDTEGrid returns the days-to-expiry grid in calendar days.
func DefaultDTEGrid() []BucketDef {
	return []BucketDef{
		{Code: "t2", Rep: 2, Low: 1, High: 3.5},
		{Code: "t5", Rep: 5, Low: 3.5, High: 6},
		{Code: "t7", Rep: 7, Low: 6, High: 8.5},
		{Code: "t10", Rep: 10, Low: 8.5, High: 11},
		{Code: "t12", Rep: 12, Low: 11, High: 13},
		{Code: "t14", Rep: 14, Low: 13, High: 16},
		{Code: "t18", Rep: 18, Low: 16, High: 21},
		{Code: "t24", Rep: 24, Low: 21, High: 27},
		{Code: "t30", Rep: 30, Low: 27, High: 37.5},
		{Code: "t45", Rep: 45, Low: 37.5, High: 60},
		{Code: "t75", Rep: 75, Low: 60, High: 82.5},
		{Code: "t90", Rep: 90, Low: 82.5, High: 105},
		{Code: "t120", Rep: 120, Low: 105, High: 135},
		{Code: "t150", Rep: 150, Low: 135, High: 165},
		{Code: "t180", Rep: 180, Low: 165, High: 195},
		{Code: "t210", Rep: 210, Low: 195, High: 255},
		{Code: "t300", Rep: 300, Low: 255, High: 400},
		{Code: "t510", Rep: 510, Low: 400, High: 620},
		{Code: "t730", Rep: 730, Low: 620, High: 840},
		{Code: "t950", Rep: 950, Low: 840, High: 1060},
		{Code: "t1170", Rep: 1170, Low: 1060, High: 1280},
		{Code: "t1390", Rep: 1390, Low: 1280, High: 1500},
	}
}
