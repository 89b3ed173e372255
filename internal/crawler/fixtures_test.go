package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/hnarchiver/internal/crawler"
)

var testEndpoints = crawler.Endpoints{
	ItemURL:       "https://api.test/item/%d.json",
	TopStoriesURL: "https://api.test/topstories.json",
	DiscussionURL: "https://news.test/item?id=%d",
}

// fakeWeb serves canned JSON for API URLs and a fixed page for anything else.
type fakeWeb struct {
	mu        sync.Mutex
	json      map[string]string
	hang      map[string]bool
	requested []string
}

func newFakeWeb() *fakeWeb {
	return &fakeWeb{json: make(map[string]string), hang: make(map[string]bool)}
}

func (w *fakeWeb) item(id int64, body string) *fakeWeb {
	w.json[testEndpoints.Item(id)] = body
	return w
}

func (w *fakeWeb) top(body string) *fakeWeb {
	w.json[testEndpoints.TopStoriesURL] = body
	return w
}

func (w *fakeWeb) hangOn(url string) *fakeWeb {
	w.hang[url] = true
	return w
}

func (w *fakeWeb) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	w.mu.Lock()
	w.requested = append(w.requested, req.URL)
	body, isJSON := w.json[req.URL]
	hang := w.hang[req.URL]
	w.mu.Unlock()

	if hang {
		<-ctx.Done()
		return crawler.FetchResponse{}, ctx.Err()
	}
	if isJSON {
		return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
	}
	if strings.HasPrefix(req.URL, "https://api.test/") {
		return crawler.FetchResponse{}, errors.New("404 not found")
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte("page:" + req.URL)}, nil
}

func (w *fakeWeb) requestedURLs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.requested...)
}

func (w *fakeWeb) wasRequested(url string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, u := range w.requested {
		if u == url {
			return true
		}
	}
	return false
}

// fakeLedger is an in-memory crawler.Ledger.
type fakeLedger struct {
	mu      sync.Mutex
	ids     map[int64]bool
	entries []crawler.StoryEntry
	err     error
}

func newFakeLedger(ids ...int64) *fakeLedger {
	l := &fakeLedger{ids: make(map[int64]bool)}
	for _, id := range ids {
		l.ids[id] = true
	}
	return l
}

func (l *fakeLedger) Has(id int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ids[id]
}

func (l *fakeLedger) Record(_ context.Context, entry crawler.StoryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	if l.ids[entry.ID] {
		return crawler.ErrAlreadyRecorded
	}
	l.ids[entry.ID] = true
	l.entries = append(l.entries, entry)
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("cycle-%d", s.n), nil
}

// failingStore refuses to create story directories.
type failingStore struct {
	crawler.Store
}

func (failingStore) CreateStoryDir(context.Context, crawler.StoryEntry) (crawler.StoryDir, bool, error) {
	return crawler.StoryDir{}, false, errors.New("disk full")
}

// panicGateway panics when asked for one particular URL.
type panicGateway struct {
	crawler.Gateway
	url string
}

func (p panicGateway) FetchJSON(ctx context.Context, url string, dst any) error {
	if url == p.url {
		panic("boom")
	}
	return p.Gateway.FetchJSON(ctx, url, dst)
}

// threadWeb is a story with two comments; the first has two links and one
// link-less reply.
//
//	100 story
//	├── 101 comment (2 links)
//	│   └── 103 comment
//	└── 102 comment
func threadWeb() *fakeWeb {
	return newFakeWeb().
		item(100, `{"id":100,"type":"story","title":"Story","url":"https://example.com/story.html","kids":[101,102]}`).
		item(101, `{"id":101,"type":"comment","text":"see <a href=\"https:&#x2F;&#x2F;a.example&#x2F;one\" rel=\"nofollow\">one</a> and <a href=\"https:&#x2F;&#x2F;b.example&#x2F;two.pdf\" rel=\"nofollow\">two</a>","kids":[103]}`).
		item(102, `{"id":102,"type":"comment","text":"no links"}`).
		item(103, `{"id":103,"type":"comment","text":"me neither"}`)
}
