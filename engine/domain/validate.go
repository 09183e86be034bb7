package domain

import (
	"strconv"
	"strings"
)

// ValidateCriteria checks caller-supplied search criteria. Fuel and gearbox
// may be empty; when set they must be known names.
func ValidateCriteria(c SearchCriteria) error {
	if strings.TrimSpace(c.Brand) == "" {
		return NewValidationError("brand", c.Brand, ErrMissingBrand)
	}
	for field, v := range map[string]int{
		"max_price":   c.MaxPrice,
		"max_mileage": c.MaxMileage,
		"min_year":    c.MinYear,
		"max_results": c.MaxResults,
	} {
		if v < 0 {
			return NewValidationError(field, strconv.Itoa(v), ErrInvalidCriteria)
		}
	}
	if c.Fuel != "" {
		if _, ok := FuelCodes[strings.ToLower(c.Fuel)]; !ok {
			return NewValidationError("fuel", c.Fuel, ErrUnknownFuel)
		}
	}
	if c.Gearbox != "" {
		if _, ok := GearboxCodes[strings.ToLower(c.Gearbox)]; !ok {
			return NewValidationError("gearbox", c.Gearbox, ErrUnknownGearbox)
		}
	}
	return nil
}

// ValidateThreshold checks a single priority threshold.
func ValidateThreshold(field string, v int) error {
	if v < 0 || v > MaxThreshold {
		return NewValidationError(field, strconv.Itoa(v), ErrInvalidThreshold)
	}
	return nil
}

// ValidateThresholds checks a high/medium pair.
func ValidateThresholds(high, medium int) error {
	if err := ValidateThreshold("high", high); err != nil {
		return err
	}
	if err := ValidateThreshold("medium", medium); err != nil {
		return err
	}
	if medium > high {
		return NewValidationError("medium", strconv.Itoa(medium), ErrThresholdOrder)
	}
	return nil
}

// ParseThreshold parses and validates a threshold typed by an operator.
func ParseThreshold(field, raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, NewValidationError(field, raw, ErrInvalidThreshold)
	}
	return v, ValidateThreshold(field, v)
}

// ValidateListing checks the fields every stored listing must carry.
func ValidateListing(l Listing) error {
	if strings.TrimSpace(l.ID) == "" {
		return NewValidationError("listing_id", l.ID, ErrMissingListingID)
	}
	return nil
}
