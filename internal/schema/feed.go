package schema

import "strconv"

// MediaItem references one attachment of a feed message.
type MediaItem struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Message is a channel post delivered by live push or by the messages backfill endpoint.
type Message struct {
	ID              int64       `json:"id"`
	ChannelUsername string      `json:"channel_username"`
	ChannelTitle    string      `json:"channel_title,omitempty"`
	Text            string      `json:"text"`
	Views           int         `json:"views"`
	Forwards        int         `json:"forwards"`
	Date            string      `json:"date"`
	IsDemo          bool        `json:"is_demo,omitempty"`
	HasMedia        bool        `json:"has_media,omitempty"`
	MediaType       string      `json:"media_type,omitempty"`
	MediaPath       string      `json:"media_path,omitempty"`
	MediaURL        string      `json:"media_url,omitempty"`
	Media           []MediaItem `json:"media"`
}

// Key is the composite identity of a message within the feed.
func (m Message) Key() string {
	return m.ChannelUsername + ":" + strconv.FormatInt(m.ID, 10)
}

// Article is a news item from the secondary feed.
type Article struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	PublishedAt string `json:"published_at"`
	Kind        string `json:"kind,omitempty"`
	SourceTitle string `json:"source_title,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Key is the identity of an article within the news feed.
func (a Article) Key() string {
	return strconv.FormatInt(a.ID, 10)
}
