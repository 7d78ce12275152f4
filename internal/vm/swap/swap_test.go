package swap

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteOutThenReadInRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore devolvió error: %v", err)
	}

	data := []byte{1, 2, 3, 4}
	if err := s.WriteOut(2, 32, data, 5, 99); err != nil {
		t.Fatalf("WriteOut devolvió error: %v", err)
	}
	if !s.Exists(2, 32) {
		t.Fatalf("Exists debería ser true tras WriteOut")
	}

	gotData, accessCount, lastAccessed, err := s.ReadIn(2, 32)
	if err != nil {
		t.Fatalf("ReadIn devolvió error: %v", err)
	}
	if accessCount != 5 || lastAccessed != 99 {
		t.Fatalf("contadores no restaurados: accessCount=%d lastAccessed=%d", accessCount, lastAccessed)
	}
	for i := range data {
		if gotData[i] != data[i] {
			t.Fatalf("byte %d no coincide: got %d want %d", i, gotData[i], data[i])
		}
	}
	if s.Exists(2, 32) {
		t.Fatalf("ReadIn debería borrar el archivo de swap")
	}
}

func TestNewStoreDeletesPreexistingSwapFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "page3-48.xml")
	if err := os.WriteFile(stale, []byte(`{}`), 0644); err != nil {
		t.Fatalf("no se pudo escribir archivo de swap obsoleto: %v", err)
	}

	if _, err := NewStore(dir); err != nil {
		t.Fatalf("NewStore devolvió error: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("NewStore debería borrar archivos de swap preexistentes")
	}
}

func TestExistsFalseWhenNoFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore devolvió error: %v", err)
	}
	if s.Exists(0, 0) {
		t.Fatalf("Exists no debería ser true sin haber escrito nada")
	}
}
