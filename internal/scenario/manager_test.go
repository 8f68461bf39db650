package scenario

import (
	"os"
	"path/filepath"
	"testing"
)

const validScenarioYAML = `
scenario:
  name: harbor-run
  duration_seconds: 30
  seed: 9
  streams:
    - kind: depth
      frequency_hz: 2
      function: sineWave
      args:
        center: 8.0
        amplitude: 2.0
  phases:
    - name: only
      duration_seconds: 30
`

func writeScenario(t *testing.T, dir, file, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestManager_LoadByFileAndByName(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "harbor.yaml", validScenarioYAML)
	m := NewManager(dir)

	// By declared name, even though the file is called harbor.yaml.
	def, err := m.Load("harbor-run")
	if err != nil {
		t.Fatalf("Load by name: %v", err)
	}
	if def.Name != "harbor-run" || def.DurationSeconds != 30 {
		t.Errorf("unexpected definition: %+v", def)
	}

	// By file stem.
	if _, err := m.Load("harbor"); err != nil {
		t.Errorf("Load by file stem: %v", err)
	}

	if _, err := m.Load("nope"); err == nil {
		t.Error("loading a missing scenario succeeded")
	}
}

func TestManager_ListSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "good.yaml", validScenarioYAML)
	writeScenario(t, dir, "broken.yaml", "scenario: [not, a, mapping")
	writeScenario(t, dir, "notes.txt", "ignored")

	infos, err := NewManager(dir).List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "harbor-run" {
		t.Fatalf("List: got %+v, want only harbor-run", infos)
	}
	if infos[0].Streams != 1 || infos[0].Phases != 1 {
		t.Errorf("counts: got %+v", infos[0])
	}
}

func TestLoadBytes_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no streams", "scenario:\n  name: x\n  duration_seconds: 10\n"},
		{"zero duration", "scenario:\n  name: x\n  streams:\n    - kind: depth\n      frequency_hz: 1\n"},
		{"bad kind", "scenario:\n  name: x\n  duration_seconds: 10\n  streams:\n    - kind: sonar\n      frequency_hz: 1\n"},
		{"zero frequency", "scenario:\n  name: x\n  duration_seconds: 10\n  streams:\n    - kind: depth\n      frequency_hz: 0\n"},
	}
	for _, tc := range cases {
		if _, err := LoadBytes([]byte(tc.yaml)); err == nil {
			t.Errorf("%s: validation passed, want error", tc.name)
		}
	}
}

func TestLoadBytes_DefaultSeed(t *testing.T) {
	def, err := LoadBytes([]byte("scenario:\n  name: x\n  duration_seconds: 10\n  streams:\n    - kind: depth\n      frequency_hz: 1\n"))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if def.Seed != 1 {
		t.Errorf("default seed: got %d, want 1", def.Seed)
	}
}
