// Package region provides the region-check collaborator for visit flows.
//
// It compares a customer's district against the assigned sales rep's region
// and reports whether the visit is out-of-region. Pure query, no side effects.
package region

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fieldops/VisitPipe/internal/models"
)

// CheckResult is the outcome of a region check.
type CheckResult struct {
	IsOutOfRegion    bool   `json:"is_out_of_region"`
	CustomerDistrict string `json:"customer_district"`
	RepRegion        string `json:"rep_region"`
}

// Checker defines the region-check interface consumed by the visit flow.
type Checker interface {
	// CheckRegion compares the customer's district to the rep's assigned region.
	CheckRegion(ctx context.Context, customerDistrict, repID string) (CheckResult, error)
}

// RepRegionSource resolves a sales rep's assigned region. The relational
// store satisfies this interface.
type RepRegionSource interface {
	GetSalesRep(id string) (*models.SalesRep, error)
}

// StoreChecker resolves rep regions from a backing store.
type StoreChecker struct {
	reps RepRegionSource
}

// NewStoreChecker creates a Checker backed by the given rep source.
func NewStoreChecker(reps RepRegionSource) *StoreChecker {
	slog.Debug("Creating region StoreChecker")
	return &StoreChecker{reps: reps}
}

// CheckRegion implements Checker. District comparison is case-insensitive
// after trimming, so "Kadıköy" and " kadıköy " match.
func (c *StoreChecker) CheckRegion(ctx context.Context, customerDistrict, repID string) (CheckResult, error) {
	if customerDistrict == "" {
		return CheckResult{}, models.ErrEmptyDistrict
	}
	if repID == "" {
		return CheckResult{}, models.ErrEmptySalesRepID
	}

	rep, err := c.reps.GetSalesRep(repID)
	if err != nil {
		slog.Error("StoreChecker CheckRegion rep lookup failed", "error", err, "repID", repID)
		return CheckResult{}, fmt.Errorf("failed to resolve rep region for %s: %w", repID, err)
	}
	if rep == nil {
		return CheckResult{}, fmt.Errorf("sales rep %s not found", repID)
	}

	result := CheckResult{
		IsOutOfRegion:    models.NormalizeDistrict(customerDistrict) != models.NormalizeDistrict(rep.Region),
		CustomerDistrict: customerDistrict,
		RepRegion:        rep.Region,
	}
	slog.Debug("StoreChecker CheckRegion", "repID", repID, "district", customerDistrict, "repRegion", rep.Region, "outOfRegion", result.IsOutOfRegion)
	return result, nil
}

// StaticChecker is a map-backed Checker keyed by rep ID. Useful for tests and
// single-binary deployments without a rep table.
type StaticChecker struct {
	regions map[string]string
}

// NewStaticChecker creates a StaticChecker with the given repID → region map.
func NewStaticChecker(regions map[string]string) *StaticChecker {
	return &StaticChecker{regions: regions}
}

// CheckRegion implements Checker.
func (c *StaticChecker) CheckRegion(ctx context.Context, customerDistrict, repID string) (CheckResult, error) {
	repRegion, ok := c.regions[repID]
	if !ok {
		return CheckResult{}, fmt.Errorf("sales rep %s not found", repID)
	}
	return CheckResult{
		IsOutOfRegion:    models.NormalizeDistrict(customerDistrict) != models.NormalizeDistrict(repRegion),
		CustomerDistrict: customerDistrict,
		RepRegion:        repRegion,
	}, nil
}
