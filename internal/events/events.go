// Package events publishes subtitle lifecycle notifications.
package events

import (
	"strings"
	"time"
)

type Action string

const (
	Created Action = "created"
	Updated Action = "updated"
	Deleted Action = "deleted"
)

// Event is the JSON payload published for a subtitle change.
type Event struct {
	Action     Action    `json:"action"`
	UserID     string    `json:"user_id"`
	SubtitleID string    `json:"subtitle_id"`
	Title      string    `json:"title,omitempty"`
	Segments   int       `json:"segments"`
	At         time.Time `json:"at"`
}

// Publisher delivers events. Implementations must not block the caller on
// delivery and must be safe for concurrent use.
type Publisher interface {
	Publish(e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Topic returns "<prefix>/<user>/subtitles/<action>". Characters with
// special meaning in MQTT topics are replaced in the user id.
func Topic(prefix, userID string, action Action) string {
	user := topicLevelReplacer.Replace(userID)
	if user == "" {
		user = "_"
	}
	return strings.Join([]string{strings.TrimSuffix(prefix, "/"), user, "subtitles", string(action)}, "/")
}

var topicLevelReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")
