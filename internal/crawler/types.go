package crawler

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrNoData is returned when the API answers with a JSON null body.
	ErrNoData = errors.New("no data")
	// ErrAlreadyRecorded is returned by a ledger asked to record a story id twice.
	ErrAlreadyRecorded = errors.New("story already recorded")
	// ErrTraversalPanic wraps a panic recovered while walking a comment tree.
	ErrTraversalPanic = errors.New("traversal panic")
)

// ItemType classifies a post returned by the item endpoint.
type ItemType string

// Post types the engine acts on. Anything else (job, poll, pollopt) is walked
// but nothing is downloaded for it.
const (
	ItemStory   ItemType = "story"
	ItemComment ItemType = "comment"
)

// Item is one post as served by the item endpoint.
type Item struct {
	ID      int64    `json:"id"`
	Type    ItemType `json:"type"`
	By      string   `json:"by,omitempty"`
	Time    int64    `json:"time,omitempty"`
	Title   string   `json:"title,omitempty"`
	URL     string   `json:"url,omitempty"`
	Text    string   `json:"text,omitempty"`
	Kids    []int64  `json:"kids,omitempty"`
	Deleted bool     `json:"deleted,omitempty"`
	Dead    bool     `json:"dead,omitempty"`
}

// Result is the aggregate of one subtree: the number of descendant comments
// and the number of distinct links found in them.
type Result struct {
	Comments int `json:"comments"`
	Refs     int `json:"refs"`
}

// Add returns the component-wise sum of r and other.
func (r Result) Add(other Result) Result {
	return Result{Comments: r.Comments + other.Comments, Refs: r.Refs + other.Refs}
}

// StoryEntry identifies a story captured by the archiver.
type StoryEntry struct {
	ID         int64     `json:"id"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	RecordedAt time.Time `json:"recorded_at"`
}

// StoryDir is the storage location that holds one story's downloads.
type StoryDir struct {
	StoryID  int64
	Name     string
	Location string
}

// StoryReport is emitted once per traversed story.
type StoryReport struct {
	CycleID   string `json:"cycle_id"`
	Iteration int    `json:"iteration"`
	StoryID   int64  `json:"story_id"`
	Comments  int    `json:"comments"`
	Refs      int    `json:"refs"`
	Error     string `json:"error,omitempty"`
}

// CycleReport summarizes one polling cycle.
type CycleReport struct {
	CycleID   string        `json:"cycle_id"`
	Iteration int           `json:"iteration"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Fetches   int64         `json:"fetches"`
	Stories   []StoryReport `json:"stories"`
	Skipped   []int64       `json:"skipped,omitempty"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
