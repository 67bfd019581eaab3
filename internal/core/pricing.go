package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Rates struct {
	Black    float64
	Color    float64
	Currency string
}

func (r Rates) perPage(mode ColorMode) float64 {
	if mode == ColorColor {
		return r.Color
	}
	return r.Black
}

// CountSelectedPages returns how many distinct pages a selection such as "1-3,5" covers.
// An empty selection or "all" selects every page.
func CountSelectedPages(selection string, pageCount int) (int, error) {
	if pageCount <= 0 {
		return 0, fmt.Errorf("%w: document has no pages", ErrInvalidPageRange)
	}

	selection = strings.TrimSpace(strings.ToLower(selection))
	if selection == "" || selection == "all" {
		return pageCount, nil
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(selection, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return 0, fmt.Errorf("%w: empty segment in %q", ErrInvalidPageRange, selection)
		}

		lo, hi := part, part
		if i := strings.Index(part, "-"); i >= 0 {
			lo, hi = strings.TrimSpace(part[:i]), strings.TrimSpace(part[i+1:])
		}

		start, err := strconv.Atoi(lo)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPageRange, part)
		}
		end, err := strconv.Atoi(hi)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPageRange, part)
		}
		if start < 1 || end < start || end > pageCount {
			return 0, fmt.Errorf("%w: %q outside 1-%d", ErrInvalidPageRange, part, pageCount)
		}

		for p := start; p <= end; p++ {
			seen[p] = true
		}
	}

	return len(seen), nil
}

func ValidatePrintSpec(spec *PrintSpec) error {
	if spec.Copies <= 0 {
		return fmt.Errorf("%w: copies must be at least 1", ErrInvalidPrintSpec)
	}
	switch spec.ColorMode {
	case "":
		spec.ColorMode = ColorBlack
	case ColorBlack, ColorColor:
	default:
		return fmt.Errorf("%w: unknown color mode %q", ErrInvalidPrintSpec, spec.ColorMode)
	}
	switch spec.Orientation {
	case "":
		spec.Orientation = OrientationPortrait
	case OrientationPortrait, OrientationLandscape:
	default:
		return fmt.Errorf("%w: unknown orientation %q", ErrInvalidPrintSpec, spec.Orientation)
	}
	if spec.PageSize == "" {
		spec.PageSize = "A4"
	}
	return nil
}

// ComputeCost prices a job once at creation: selected pages x copies x per-page rate.
func ComputeCost(pageCount int, spec PrintSpec, rates Rates) (float64, error) {
	pages, err := CountSelectedPages(spec.PageSelection, pageCount)
	if err != nil {
		return 0, err
	}
	if spec.Copies <= 0 {
		return 0, fmt.Errorf("%w: copies must be at least 1", ErrInvalidPrintSpec)
	}
	cost := float64(pages) * float64(spec.Copies) * rates.perPage(spec.ColorMode)
	return math.Round(cost*100) / 100, nil
}

// MinorUnits converts an amount to the processor's integer currency unit (paise, cents).
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
