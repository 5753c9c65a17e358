package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channels.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
	return path
}

func TestLoadAndResolve(t *testing.T) {
	path := writeCatalog(t, `
channels:
  news:
    url: http://upstream.example/news.ts
    user_agent: vlc/3.0
  movies:
    url: http://upstream.example/movies.ts
    transcode: ["ffmpeg", "-i", "{url}", "-c", "copy", "-f", "mpegts", "-"]
`)

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cat.Len() != 2 {
		t.Errorf("expected 2 channels, got %d", cat.Len())
	}

	entry, err := cat.Resolve("news")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if entry.URL != "http://upstream.example/news.ts" || entry.UserAgent != "vlc/3.0" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	entry, err = cat.Resolve("movies")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(entry.Transcode) != 7 || entry.Transcode[0] != "ffmpeg" {
		t.Errorf("transcode command not parsed: %v", entry.Transcode)
	}

	if _, err := cat.Resolve("nope"); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("expected ErrUnknownChannel, got %v", err)
	}
}

func TestResolveRejectsEntryWithoutURL(t *testing.T) {
	path := writeCatalog(t, `
channels:
  broken:
    user_agent: vlc/3.0
`)

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := cat.Resolve("broken"); err == nil {
		t.Error("entry without a url must not resolve")
	}
}

func TestReloadKeepsOldCatalogOnError(t *testing.T) {
	path := writeCatalog(t, "channels:\n  news:\n    url: http://upstream.example/news.ts\n")

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("channels: [not: a: map"), 0o644); err != nil {
		t.Fatalf("failed to corrupt catalog: %v", err)
	}
	if err := cat.Reload(); err == nil {
		t.Fatal("reload of a broken file must fail")
	}

	// The previous catalog stays usable.
	if _, err := cat.Resolve("news"); err != nil {
		t.Errorf("old entries lost after failed reload: %v", err)
	}
}

func TestReloadPicksUpNewChannels(t *testing.T) {
	path := writeCatalog(t, "channels:\n  news:\n    url: http://upstream.example/news.ts\n")

	cat, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	updated := "channels:\n  news:\n    url: http://upstream.example/news.ts\n  sports:\n    url: http://upstream.example/sports.ts\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("failed to update catalog: %v", err)
	}
	if err := cat.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if _, err := cat.Resolve("sports"); err != nil {
		t.Errorf("new channel not resolvable after reload: %v", err)
	}
}
