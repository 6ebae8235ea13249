package reload

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/timzifer/drivelink/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestUniquePathsFiltersDuplicatesAndEmptyValues(t *testing.T) {
	got := uniquePaths([]string{"", "/tmp/a", "/tmp/b", "/tmp/a", "/tmp/c", "/tmp/b"})
	want := []string{"/tmp/a", "/tmp/b", "/tmp/c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("uniquePaths() = %v, want %v", got, want)
	}
}

func TestWatcherTracksSourceAndExtraFiles(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "drivelink.yaml")
	extra := filepath.Join(dir, "registers.yaml")
	missing := filepath.Join(dir, "missing.yaml")
	writeFile(t, source, "link: {}")
	writeFile(t, extra, "entries: []")

	watcher := NewWatcher(&config.Config{Source: source}, extra, missing, dir)
	if len(watcher.files) != 3 {
		t.Fatalf("expected 3 tracked files, got %d", len(watcher.files))
	}
	if !watcher.files[missing].missing {
		t.Fatalf("expected %s to be tracked as missing", missing)
	}
	if changed := watcher.Check(); len(changed) != 0 {
		t.Fatalf("expected no changes, got %v", changed)
	}
}

func TestWatcherDetectsModificationAndRemoval(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "drivelink.yaml")
	other := filepath.Join(dir, "other.yaml")
	writeFile(t, source, "link: {}")
	writeFile(t, other, "x")

	watcher := NewWatcher(&config.Config{Source: source}, other)
	writeFile(t, source, "link: {port: /dev/ttyACM0}")
	if err := os.Remove(other); err != nil {
		t.Fatalf("remove: %v", err)
	}

	changed := watcher.Check()
	want := []string{source, other}
	if other < source {
		want = []string{other, source}
	}
	if !reflect.DeepEqual(changed, want) {
		t.Fatalf("Check() = %v, want %v", changed, want)
	}

	watcher.Update(&config.Config{Source: source})
	if changed := watcher.Check(); len(changed) != 0 {
		t.Fatalf("expected no changes after update, got %v", changed)
	}
}

func TestWatcherTracksRecreatedFile(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "drivelink.yaml")
	writeFile(t, source, "link: {}")
	cfg := &config.Config{Source: source}
	watcher := NewWatcher(cfg)

	if err := os.Remove(source); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if changed := watcher.Check(); !reflect.DeepEqual(changed, []string{source}) {
		t.Fatalf("Check() after remove = %v", changed)
	}

	watcher.Update(cfg)
	if changed := watcher.Check(); len(changed) != 0 {
		t.Fatalf("expected missing file to stay quiet, got %v", changed)
	}

	writeFile(t, source, "link: {port: /dev/ttyACM0}")
	if changed := watcher.Check(); !reflect.DeepEqual(changed, []string{source}) {
		t.Fatalf("Check() after recreate = %v", changed)
	}
}

func TestWatcherWatchDeliversChanges(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "drivelink.yaml")
	writeFile(t, source, "a")
	watcher := NewWatcher(&config.Config{Source: source})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := watcher.Watch(ctx, 5*time.Millisecond)

	writeFile(t, source, "ab")
	select {
	case changed := <-changes:
		if !reflect.DeepEqual(changed, []string{source}) {
			t.Fatalf("unexpected change set %v", changed)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no change delivered")
	}

	cancel()
	for range changes {
	}
}

func TestNilWatcher(t *testing.T) {
	var watcher *Watcher
	watcher.Update(nil)
	if watcher.Check() != nil {
		t.Fatalf("expected nil change set")
	}
}
