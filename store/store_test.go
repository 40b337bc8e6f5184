package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "duco.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func TestSaveAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	record := Record{
		ID:              "a",
		Name:            "Bathroom Humidity Control Valve",
		Host:            "10.0.0.5",
		Node:            3,
		Serial:          "RS0001",
		SoftwareVersion: "1.0",
		Type:            "VLVRH",
		Location:        "Bathroom",
		Config:          []byte(`{"setpoint":70}`),
		IsOn:            true,
		RotationSpeed:   30,
	}
	if err := s.Save(ctx, record); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	record.Node = 4
	if err := s.Save(ctx, record); err != nil {
		t.Fatalf("Save() upsert error = %v", err)
	}

	records, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("List() returned %d records, want 1", len(records))
	}

	got := records[0]
	if got.Node != 4 || got.Host != "10.0.0.5" || !got.IsOn || got.RotationSpeed != 30 || string(got.Config) != `{"setpoint":70}` {
		t.Errorf("List()[0] = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestUpdateStateAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, Record{ID: "a", Type: "BOX"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.UpdateState(ctx, "a", true, 55); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	records, _ := s.List(ctx)
	if len(records) != 1 || !records[0].IsOn || records[0].RotationSpeed != 55 {
		t.Errorf("List() = %+v", records)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if records, _ := s.List(ctx); len(records) != 0 {
		t.Errorf("List() after Delete = %+v", records)
	}
}
