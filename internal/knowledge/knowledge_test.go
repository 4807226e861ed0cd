package knowledge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/TobiSchelling/ubot/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func TestCSVFileLoad(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tracker.csv",
		"\ufeffID,Title,Status\n1,Login crash,Open\n2,Dark mode\n")

	table, err := (&CSVFile{Path: path}).LoadTable(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Header) != 3 || table.Header[0] != "ID" {
		t.Errorf("unexpected header: %q", table.Header)
	}
	records := table.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["Status"] != "Open" {
		t.Errorf("expected status Open, got %q", records[0]["Status"])
	}
	if records[1]["Status"] != "" {
		t.Errorf("expected short row to be padded, got %q", records[1]["Status"])
	}
}

func TestCSVFileEmpty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "empty.csv", "")
	table, err := (&CSVFile{Path: path}).LoadTable(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(table.Records()) != 0 {
		t.Error("expected no records")
	}
}

func TestTableColumnSkipsBlanks(t *testing.T) {
	table := newTable([]string{"Alice", "Bob"}, [][]string{
		{"likes the map", ""},
		{"  ", "wants dark mode"},
		{"found a crash", "slow loading"},
	})
	col, err := table.Column("alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(col) != 2 || col[0] != "likes the map" || col[1] != "found a crash" {
		t.Errorf("unexpected column: %q", col)
	}
	if _, err := table.Column("carol"); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("expected ErrUnknownColumn, got %v", err)
	}
}

func TestRegistryAccessors(t *testing.T) {
	reg, err := NewRegistry(
		NewFreeform("transcripts", "Transcripts", []string{"transcript"}, StaticText("the full transcript")),
		NewTabular("roadmap", "Roadmap", []string{"roadmap"}, false,
			&StaticTable{Header: []string{"Quarter", "Item"}, Rows: [][]string{{"Q1", "Search"}}}),
		NewLive("live_chat", "", []string{"discord"}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	blob, err := reg.Blob(ctx, "transcripts")
	if err != nil || blob != "the full transcript" {
		t.Errorf("unexpected blob %q, err %v", blob, err)
	}
	header, err := reg.HeaderRow(ctx, "roadmap")
	if err != nil || len(header) != 2 {
		t.Errorf("unexpected header %q, err %v", header, err)
	}
	records, err := reg.Records(ctx, "roadmap")
	if err != nil || len(records) != 1 || records[0]["Item"] != "Search" {
		t.Errorf("unexpected records %v, err %v", records, err)
	}

	if _, err := reg.Blob(ctx, "roadmap"); !errors.Is(err, ErrWrongKind) {
		t.Errorf("expected ErrWrongKind, got %v", err)
	}
	if _, err := reg.Records(ctx, "transcripts"); !errors.Is(err, ErrWrongKind) {
		t.Errorf("expected ErrWrongKind, got %v", err)
	}
	if _, err := reg.Records(ctx, "missing"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}

	live, _ := reg.Get("live_chat")
	if live.Label != "live_chat" {
		t.Errorf("expected label to default to name, got %q", live.Label)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(NewLive("a", "", nil), NewLive("a", "", nil))
	if err == nil {
		t.Fatal("expected error for duplicate names")
	}
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", "notes")
	writeFile(t, dir, "tracker.csv", "ID,Title\n1,Crash\n")

	reg, err := FromConfig([]config.SourceEntry{
		{Name: "notes", Kind: "text", Path: "notes.txt"},
		{Name: "tracker", Kind: "tabular", Path: "tracker.csv"},
		{Name: "release_notes", Kind: "tabular", Backend: "feed"},
		{Name: "live", Kind: "live"},
	}, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := []string{}
	for _, s := range reg.Sources() {
		names = append(names, s.Name)
	}
	if len(names) != 3 || names[0] != "notes" || names[1] != "tracker" || names[2] != "live" {
		t.Errorf("unexpected sources: %v", names)
	}

	blob, err := reg.Blob(context.Background(), "notes")
	if err != nil || blob != "notes" {
		t.Errorf("expected relative path to resolve against data dir, got %q, %v", blob, err)
	}
}

func TestFromConfigRejectsUnknownKind(t *testing.T) {
	_, err := FromConfig([]config.SourceEntry{{Name: "x", Kind: "spreadsheet"}}, "")
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestFromConfigRejectsUnknownBackend(t *testing.T) {
	_, err := FromConfig([]config.SourceEntry{{Name: "x", Kind: "tabular", Backend: "sheets", Path: "x"}}, "")
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

const testFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Release notes</title>
<item><title>v1.2</title><link>https://example.com/1.2</link>
<pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate>
<description>&lt;p&gt;Fixed the login crash&lt;/p&gt;</description></item>
<item><title></title><link>https://example.com/untitled</link></item>
<item><title>v1.1</title><guid>v1.1-guid</guid><description>Dark mode</description></item>
</channel></rss>`

func TestFeedLoadTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testFeed))
	}))
	defer srv.Close()

	table, err := NewFeed(srv.URL, false).LoadTable(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	records := table.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0]["title"] != "v1.2" || records[0]["published"] != "2026-03-02" {
		t.Errorf("unexpected first record: %v", records[0])
	}
	if records[0]["description"] != "Fixed the login crash" {
		t.Errorf("expected html stripped, got %q", records[0]["description"])
	}
	if records[1]["link"] != "v1.1-guid" {
		t.Errorf("expected guid fallback, got %q", records[1]["link"])
	}
}

const releasePage = `<!DOCTYPE html>
<html><head><title>Release 1.3</title></head>
<body>
<nav><a href="/">Home</a> <a href="/blog">Blog</a></nav>
<article>
<h1>Release 1.3</h1>
<p>This release rebuilds the spatial stories view from the ground up, with faster loading, smoother transitions between stories, and a new gesture for jumping back to the map.</p>
<p>We fixed the login crash that some insiders reported on older Android devices, along with a memory leak in the feed that made the app slow down after long sessions.</p>
<p>Direct messages now show read receipts, and you can mute a conversation from its header. Thanks to everyone in the insider program who sent feedback, bug reports, and screenshots.</p>
</article>
<footer>Copyright</footer>
</body></html>`

func TestFeedFetchesLinkedPages(t *testing.T) {
	var pageHits atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	long := strings.Repeat("Long enough description of the release. ", 10)
	mux.HandleFunc("/feed", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>Release notes</title>
<item><title>v1.3</title><link>` + srv.URL + `/notes/1.3</link><description>See the post.</description></item>
<item><title>v1.2</title><link>` + srv.URL + `/notes/1.2</link><description>` + long + `</description></item>
</channel></rss>`))
	})
	mux.HandleFunc("/notes/", func(w http.ResponseWriter, _ *http.Request) {
		pageHits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(releasePage))
	})

	table, err := NewFeed(srv.URL+"/feed", true).LoadTable(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	records := table.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if !strings.Contains(records[0]["description"], "login crash") {
		t.Errorf("expected page text for the thin item, got %q", records[0]["description"])
	}
	if records[1]["description"] != strings.TrimSpace(long) {
		t.Errorf("expected the long description kept, got %q", records[1]["description"])
	}
	if pageHits.Load() != 1 {
		t.Errorf("expected one page fetch, got %d", pageHits.Load())
	}
}

func TestFeedKeepsDescriptionWhenPageFails(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/feed", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>Release notes</title>
<item><title>v2.0</title><link>` + srv.URL + `/gone</link><description>Short note</description></item>
</channel></rss>`))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})

	table, err := NewFeed(srv.URL+"/feed", true).LoadTable(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := table.Records()[0]["description"]; got != "Short note" {
		t.Errorf("expected the feed description kept, got %q", got)
	}
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"tabular": Tabular, "TEXT": FreeformText, "live": LiveMessages} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %v, %v", in, got, err)
		}
	}
}
