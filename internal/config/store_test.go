package config

import (
	"testing"

	"plasmadriver/internal/hal"
)

func TestStore_uninitializedReadsAsTest(t *testing.T) {
	sector := hal.NewFakeFlashSector(flashWordSize)
	s := New(sector)
	rec := s.Load()
	if rec.Mode != ModeTest {
		t.Errorf("Mode = %v, want TEST for an uninitialized sector", rec.Mode)
	}
}

func TestStore_roundTrip(t *testing.T) {
	sector := hal.NewFakeFlashSector(flashWordSize)
	s := New(sector)

	if err := s.Save(Record{Mode: ModeRun}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rec := s.Load()
	if rec.Mode != ModeRun {
		t.Errorf("Mode = %v, want RUN after round trip", rec.Mode)
	}
}

func TestStore_saveIsPadded(t *testing.T) {
	sector := hal.NewFakeFlashSector(flashWordSize)
	s := New(sector)
	if err := s.Save(Record{Mode: ModeTest}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if sector.Size() != flashWordSize {
		t.Errorf("sector size changed, want %d", flashWordSize)
	}
	// An unpadded 1-byte write would leave the erased 0xFF bytes behind.
	for i := 1; i < flashWordSize; i++ {
		if sector.Backing[i] != 0 {
			t.Errorf("byte %d = 0x%02X, want 0x00 padding", i, sector.Backing[i])
		}
	}
}
