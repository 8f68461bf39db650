package logging

import "testing"

func TestLogStore_EvictsOldestPastCapacity(t *testing.T) {
	ls := NewLogStore(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		ls.Add("info", msg)
	}

	entries := ls.GetAll()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"c", "d", "e"} {
		if entries[i].Message != want {
			t.Errorf("entry %d: got %q, want %q", i, entries[i].Message, want)
		}
	}
}

func TestLogStore_LogAndStoreFormats(t *testing.T) {
	ls := NewLogStore(10)
	ls.LogAndStore("warning", "depth %0.1f below keel", 1.5)

	entries := ls.GetAll()
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Level != "warning" || entries[0].Message != "depth 1.5 below keel" {
		t.Errorf("entry: %+v", entries[0])
	}
}

func TestLogStore_GetAllReturnsCopy(t *testing.T) {
	ls := NewLogStore(10)
	ls.Add("info", "original")

	got := ls.GetAll()
	got[0].Message = "mutated"
	if ls.GetAll()[0].Message != "original" {
		t.Error("GetAll exposed internal storage")
	}
}
