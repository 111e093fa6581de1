package stories

import (
	"time"

	"github.com/Sternrassler/hn-best-stories/pkg/client"
)

// TimeLayout is the ISO-8601 layout used for Story.Time.
const TimeLayout = "2006-01-02T15:04:05-07:00"

// Story is the public projection of an item.
type Story struct {
	Title        string `json:"title"`
	URI          string `json:"uri"`
	PostedBy     string `json:"postedBy"`
	Time         string `json:"time"`
	Score        int    `json:"score"`
	CommentCount int    `json:"commentCount"`
}

// FromItem projects an item. Missing optional fields stay empty.
func FromItem(item client.Item) Story {
	return Story{
		Title:        item.Title,
		URI:          item.URL,
		PostedBy:     item.By,
		Time:         time.Unix(item.Time, 0).UTC().Format(TimeLayout),
		Score:        item.Score,
		CommentCount: item.Descendants,
	}
}
