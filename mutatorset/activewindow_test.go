package mutatorset

import "testing"

func TestActiveWindow_InsertRemoveIsReversible(t *testing.T) {
	w := NewActiveWindow()
	index := uint32(7)

	if w.Contains(index) {
		t.Fatalf("fresh window should not contain %d", index)
	}
	if err := w.Insert(index); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !w.Contains(index) {
		t.Fatalf("expected %d to be set", index)
	}
	// Inserted twice: one Remove should leave it present (it's a multiset).
	if err := w.Insert(index); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := w.Remove(index); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !w.Contains(index) {
		t.Fatalf("expected %d to still be set after one Remove of two Inserts", index)
	}
	if err := w.Remove(index); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if w.Contains(index) {
		t.Fatalf("expected %d to be cleared after second Remove", index)
	}
}

func TestActiveWindow_InsertRejectsOutOfRange(t *testing.T) {
	w := NewActiveWindow()
	if err := w.Insert(WindowSize); err == nil {
		t.Fatalf("expected error inserting index == WindowSize")
	}
}

func TestActiveWindow_RemoveAbsentIsFatal(t *testing.T) {
	w := NewActiveWindow()
	if err := w.Remove(3); err == nil {
		t.Fatalf("expected error removing an absent index")
	}
}

func TestActiveWindow_SlideWindowDropsFirstChunk(t *testing.T) {
	w := NewActiveWindow()
	for _, idx := range []uint32{0, 5, ChunkSize - 1, ChunkSize, ChunkSize + 3, WindowSize - 1} {
		if err := w.Insert(idx); err != nil {
			t.Fatalf("Insert(%d): %v", idx, err)
		}
	}
	w.SlideWindow()
	if w.hasSet(WindowSize-ChunkSize, WindowSize) {
		t.Fatalf("expected top chunk-width zone to be empty immediately after slide")
	}
	if !w.Contains(0) { // was ChunkSize, rebased to 0
		t.Fatalf("expected rebased index 0 to remain set")
	}
}

func TestActiveWindow_SlideWindowThenBackIsIdentity(t *testing.T) {
	w := NewActiveWindow()
	for _, idx := range []uint32{1, ChunkSize / 2, ChunkSize + 10, 2 * ChunkSize, WindowSize - 5} {
		if err := w.Insert(idx); err != nil {
			t.Fatalf("Insert(%d): %v", idx, err)
		}
	}
	before := w.ToSlice()
	chunk := w.SlidChunk()
	w.SlideWindow()

	if err := w.SlideWindowBack(chunk); err != nil {
		t.Fatalf("SlideWindowBack: %v", err)
	}
	after := w.ToSlice()

	if len(before) != len(after) {
		t.Fatalf("length changed: before=%v after=%v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("slide then slide-back is not the identity: before=%v after=%v", before, after)
		}
	}
}

func TestActiveWindow_SlideWindowBackRejectsNonEmptyTopZone(t *testing.T) {
	w := NewActiveWindow()
	if err := w.Insert(WindowSize - 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := w.SlideWindowBack(NewChunk()); err == nil {
		t.Fatalf("expected error sliding back into a non-empty top zone")
	}
}
