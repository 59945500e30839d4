package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// GridError describes a problem with one cell of a bucket grid.
type GridError struct {
	Grid   string
	Code   string
	Reason string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Fields []string
	Grids  []GridError
	Rules  []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Fields) > 0 || len(e.Grids) > 0 || len(e.Rules) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.Fields) > 0 {
		sb.WriteString("\nInvalid fields:\n")
		for _, f := range e.Fields {
			sb.WriteString(fmt.Sprintf("  - %s\n", f))
		}
	}

	if len(e.Grids) > 0 {
		sb.WriteString("\nInvalid bucket grids:\n")
		for _, g := range e.Grids {
			sb.WriteString(fmt.Sprintf("  - %s/%s: %s\n", g.Grid, g.Code, g.Reason))
		}
	}

	if len(e.Rules) > 0 {
		sb.WriteString("\nInvalid settings:\n")
		for _, r := range e.Rules {
			sb.WriteString(fmt.Sprintf("  - %s\n", r))
		}
	}

	return sb.String()
}

func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs.Fields = append(errs.Fields, fmt.Sprintf("%s failed %q (value: %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}

	validateGrid(errs, "delta", c.Buckets.Delta)
	validateGrid(errs, "dte", c.Buckets.DTE)

	if !(c.Fill.HighMaxDays <= c.Fill.MediumMaxDays && c.Fill.MediumMaxDays <= c.Fill.MaxDays) {
		errs.Rules = append(errs.Rules, fmt.Sprintf("fill tiers must satisfy high_max_days (%d) <= medium_max_days (%d) <= max_days (%d)",
			c.Fill.HighMaxDays, c.Fill.MediumMaxDays, c.Fill.MaxDays))
	}
	if dup := firstDuplicate(c.Percentile.Windows); dup > 0 {
		errs.Rules = append(errs.Rules, fmt.Sprintf("percentile window %d listed twice", dup))
	}
	if dup := firstDuplicate(c.Realized.Windows); dup > 0 {
		errs.Rules = append(errs.Rules, fmt.Sprintf("realized window %d listed twice", dup))
	}
	if _, err := c.Snapshot.MidSessionMs(); err != nil {
		errs.Rules = append(errs.Rules, err.Error())
	}
	if _, err := c.Snapshot.CloseMs(); err != nil {
		errs.Rules = append(errs.Rules, err.Error())
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// validateGrid checks that cells are uniquely coded, ordered and non-overlapping.
func validateGrid(errs *ValidationErrors, name string, grid []BucketDef) {
	if len(grid) == 0 {
		errs.Grids = append(errs.Grids, GridError{Grid: name, Reason: "grid is empty"})
		return
	}

	seen := make(map[string]bool, len(grid))
	for i, b := range grid {
		if seen[b.Code] {
			errs.Grids = append(errs.Grids, GridError{Grid: name, Code: b.Code, Reason: "duplicate code"})
		}
		seen[b.Code] = true

		if b.High <= b.Low {
			errs.Grids = append(errs.Grids, GridError{Grid: name, Code: b.Code, Reason: "high must exceed low"})
		}
		if b.Rep < b.Low || b.Rep > b.High {
			errs.Grids = append(errs.Grids, GridError{Grid: name, Code: b.Code, Reason: "rep outside [low, high]"})
		}
		if i > 0 && b.Low < grid[i-1].High {
			errs.Grids = append(errs.Grids, GridError{Grid: name, Code: b.Code, Reason: fmt.Sprintf("overlaps %s", grid[i-1].Code)})
		}
	}
}

func firstDuplicate(values []int) int {
	seen := make(map[int]bool, len(values))
	for _, v := range values {
		if seen[v] {
			return v
		}
		seen[v] = true
	}
	return 0
}
