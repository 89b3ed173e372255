package crawler

import "fmt"

// Endpoints holds the remote URL templates. ItemURL and DiscussionURL take the
// numeric post id as their only %d verb.
type Endpoints struct {
	ItemURL       string
	TopStoriesURL string
	DiscussionURL string
}

// DefaultEndpoints points at the public Hacker News API.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		ItemURL:       "https://hacker-news.firebaseio.com/v0/item/%d.json",
		TopStoriesURL: "https://hacker-news.firebaseio.com/v0/topstories.json",
		DiscussionURL: "https://news.ycombinator.com/item?id=%d",
	}
}

// Item returns the JSON endpoint of post id.
func (e Endpoints) Item(id int64) string {
	return fmt.Sprintf(e.ItemURL, id)
}

// Discussion returns the human-facing thread page of post id.
func (e Endpoints) Discussion(id int64) string {
	return fmt.Sprintf(e.DiscussionURL, id)
}
