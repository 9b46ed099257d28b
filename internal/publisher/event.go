// Package publisher holds the wire encoding shared by the event publishers.
package publisher

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
)

// Event types carried in the "event" attribute.
const (
	EventNewsCreated = "news.created"
)

// Encode marshals payload to JSON and derives the message attributes
// subscribers filter on.
func Encode(payload any) ([]byte, map[string]string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	attrs := map[string]string{}
	switch event := payload.(type) {
	case crawler.NewsCreated:
		attrs["event"] = EventNewsCreated
		attrs["source"] = event.Source
		attrs["news_id"] = event.NewsID
	case *crawler.NewsCreated:
		attrs["event"] = EventNewsCreated
		attrs["source"] = event.Source
		attrs["news_id"] = event.NewsID
	}
	return data, attrs, nil
}
