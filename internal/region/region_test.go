package region

import (
	"context"
	"errors"
	"testing"

	"github.com/fieldops/VisitPipe/internal/models"
	"github.com/fieldops/VisitPipe/internal/store"
)

func TestStaticCheckerMatchesCaseInsensitively(t *testing.T) {
	c := NewStaticChecker(map[string]string{"rep-1": "Kadikoy"})

	res, err := c.CheckRegion(context.Background(), "  kadikoy ", "rep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsOutOfRegion {
		t.Error("expected matching district to be in region")
	}
	if res.RepRegion != "Kadikoy" {
		t.Errorf("expected rep region Kadikoy, got %s", res.RepRegion)
	}
}

func TestStaticCheckerOutOfRegion(t *testing.T) {
	c := NewStaticChecker(map[string]string{"rep-1": "Kadikoy"})

	res, err := c.CheckRegion(context.Background(), "Ankara", "rep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsOutOfRegion {
		t.Error("expected different district to be out of region")
	}
}

func TestStaticCheckerUnknownRep(t *testing.T) {
	c := NewStaticChecker(map[string]string{})
	if _, err := c.CheckRegion(context.Background(), "Ankara", "ghost"); err == nil {
		t.Error("expected error for unknown rep")
	}
}

func TestStoreChecker(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := st.SaveSalesRep(models.SalesRep{ID: "rep-1", Name: "Ali", Region: "Istanbul"}); err != nil {
		t.Fatalf("failed to seed rep: %v", err)
	}
	c := NewStoreChecker(st)

	res, err := c.CheckRegion(context.Background(), "istanbul", "rep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsOutOfRegion {
		t.Error("expected in-region result")
	}

	res, err = c.CheckRegion(context.Background(), "Izmir", "rep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsOutOfRegion {
		t.Error("expected out-of-region result")
	}
}

func TestStoreCheckerValidation(t *testing.T) {
	c := NewStoreChecker(store.NewInMemoryStore())

	if _, err := c.CheckRegion(context.Background(), "", "rep-1"); !errors.Is(err, models.ErrEmptyDistrict) {
		t.Errorf("expected ErrEmptyDistrict, got %v", err)
	}
	if _, err := c.CheckRegion(context.Background(), "Ankara", ""); !errors.Is(err, models.ErrEmptySalesRepID) {
		t.Errorf("expected ErrEmptySalesRepID, got %v", err)
	}
	if _, err := c.CheckRegion(context.Background(), "Ankara", "ghost"); err == nil {
		t.Error("expected error for missing rep")
	}
}
