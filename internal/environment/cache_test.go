package environment

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCacheManagerMissReturnsNotOK(t *testing.T) {
	c := NewCacheManager(t.TempDir())

	_, ok, err := c.CheckCachedImage("django/django", 1001)
	if err != nil {
		t.Fatalf("CheckCachedImage: %v", err)
	}
	if ok {
		t.Fatal("expected a miss on an empty cache")
	}
}

func TestCacheManagerSaveThenCheckRoundTrips(t *testing.T) {
	c := NewCacheManager(t.TempDir())

	if err := c.SaveImage("django/django", 1001, "sha256:abc"); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	imageID, ok, err := c.CheckCachedImage("django/django", 1001)
	if err != nil {
		t.Fatalf("CheckCachedImage: %v", err)
	}
	if !ok || imageID != "sha256:abc" {
		t.Fatalf("got (%q, %v), want (sha256:abc, true)", imageID, ok)
	}
}

func TestCacheManagerDistinguishesTaskNumbers(t *testing.T) {
	c := NewCacheManager(t.TempDir())

	if err := c.SaveImage("acme/widgets", 1, "image-one"); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	if err := c.SaveImage("acme/widgets", 2, "image-two"); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	id1, _, _ := c.CheckCachedImage("acme/widgets", 1)
	id2, _, _ := c.CheckCachedImage("acme/widgets", 2)
	if id1 != "image-one" || id2 != "image-two" {
		t.Fatalf("entries collided: %q %q", id1, id2)
	}
}

func TestCacheManagerPersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	c1 := NewCacheManager(dir)
	if err := c1.SaveImage("django/django", 5, "sha256:persisted"); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	c2 := NewCacheManager(dir)
	imageID, ok, err := c2.CheckCachedImage("django/django", 5)
	if err != nil {
		t.Fatalf("CheckCachedImage: %v", err)
	}
	if !ok || imageID != "sha256:persisted" {
		t.Fatalf("got (%q, %v) from a fresh CacheManager over the same dir", imageID, ok)
	}

	if _, err := filepath.Abs(dir); err != nil {
		t.Fatalf("filepath.Abs: %v", err)
	}
}

func TestCacheManagerIgnoresCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	c := NewCacheManager(dir)
	if err := c.SaveImage("a/b", 1, "first"); err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	// Corrupt the index file directly; load() should tolerate it rather
	// than propagate a JSON error to every subsequent call.
	corruptPath := filepath.Join(dir, "image_cache.json")
	if err := os.WriteFile(corruptPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	if err := c.SaveImage("a/b", 2, "second"); err != nil {
		t.Fatalf("SaveImage after corruption: %v", err)
	}
	imageID, ok, err := c.CheckCachedImage("a/b", 2)
	if err != nil {
		t.Fatalf("CheckCachedImage: %v", err)
	}
	if !ok || imageID != "second" {
		t.Fatalf("got (%q, %v), want (second, true)", imageID, ok)
	}
}
