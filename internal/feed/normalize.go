package feed

import (
	"strings"

	"github.com/coachpo/pulse/internal/schema"
)

const mediaPrefix = "/media/"

// NormalizeMessage fills in the media fields of a message. It never produces a nil
// media list, synthesizes an entry from MediaPath when the message has media but no
// list, and backfills MediaURL from the first entry. Applying it twice is a no-op.
func NormalizeMessage(msg schema.Message) schema.Message {
	media := make([]schema.MediaItem, len(msg.Media))
	copy(media, msg.Media)

	if len(media) == 0 && msg.HasMedia && msg.MediaPath != "" {
		media = append(media, schema.MediaItem{
			Type: msg.MediaType,
			URL:  mediaURL(msg.MediaPath),
		})
	}
	msg.Media = media

	if msg.MediaURL == "" && len(media) > 0 {
		msg.MediaURL = media[0].URL
	}
	return msg
}

// NormalizeMessages normalizes every message of a page.
func NormalizeMessages(msgs []schema.Message) []schema.Message {
	out := make([]schema.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = NormalizeMessage(msg)
	}
	return out
}

func mediaURL(path string) string {
	if strings.HasPrefix(path, mediaPrefix) || strings.Contains(path, "://") {
		return path
	}
	return mediaPrefix + strings.TrimPrefix(path, "/")
}
