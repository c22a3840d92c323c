package model

import (
	"github.com/shopspring/decimal"
)

// Fixed-point scales: grams carry 6 decimals, USD carries 2.
const (
	GramsScale = 6
	USDScale   = 2
)

// ValidateGrams rejects non-positive amounts and amounts finer than a microgram.
func ValidateGrams(field string, g decimal.Decimal) error {
	if !g.IsPositive() {
		return &ValidationError{Field: field, Reason: "must be greater than zero"}
	}
	if !g.Equal(g.Truncate(GramsScale)) {
		return &ValidationError{Field: field, Reason: "more than 6 decimal places"}
	}
	return nil
}

// ValidatePrice rejects non-positive prices and sub-cent precision.
func ValidatePrice(field string, p decimal.Decimal) error {
	if !p.IsPositive() {
		return &ValidationError{Field: field, Reason: "must be greater than zero"}
	}
	if !p.Equal(p.Truncate(USDScale)) {
		return &ValidationError{Field: field, Reason: "more than 2 decimal places"}
	}
	return nil
}

// ValidateOwner rejects empty owner identifiers.
func ValidateOwner(field, owner string) error {
	if owner == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}

// USD rounds v to cents.
func USD(v decimal.Decimal) decimal.Decimal {
	return v.Round(USDScale)
}

// Grams rounds v to micrograms.
func Grams(v decimal.Decimal) decimal.Decimal {
	return v.Round(GramsScale)
}

// WeightedAverage returns value/grams rounded to cents, or zero when grams is zero.
func WeightedAverage(value, grams decimal.Decimal) decimal.Decimal {
	if grams.IsZero() {
		return decimal.Zero
	}
	return value.DivRound(grams, USDScale)
}
