package main

import (
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/medcal/calendar/internal/config"
	"github.com/medcal/calendar/internal/domain/availability"
)

func TestServiceOptions(t *testing.T) {
	cfg := &config.Config{
		SlotGranularityMinutes:  15,
		ShiftPriority:           []string{"afternoon", "morning"},
		TieBreak:                "random",
		BookingWindowDays:       7,
		EarliestMaxDays:         14,
		AvailabilityConcurrency: 4,
		LockWait:                2 * time.Second,
	}

	opts := serviceOptions(cfg)
	if opts.Granularity != 15*time.Minute {
		t.Errorf("expected 15m, got %s", opts.Granularity)
	}
	if opts.TieBreak != availability.TieBreakRandom {
		t.Errorf("expected random tie break, got %q", opts.TieBreak)
	}
	if opts.MaxSearchDays != 14 || opts.Concurrency != 4 || opts.BookingWindowDays != 7 {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestMigrationsFS_Embedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS(""), ".")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sql int
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			sql++
		}
	}
	if sql < 2 {
		t.Errorf("expected the embedded schema migrations, got %d files", sql)
	}
}
