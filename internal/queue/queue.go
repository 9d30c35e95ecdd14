// Package queue implements the durable FIFO of inbound chat messages
// waiting for an Agent turn. Each QueuedMessage is one file under the
// queue directory; the filesystem is the only source of truth, so the
// queue survives a gateway restart.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// QueuedMessage is a unit of pending work, persisted to disk until the
// Agent turn it represents has terminated.
type QueuedMessage struct {
	ChannelID  string   `json:"channelId"`
	UserID     string   `json:"userId"`
	Text       string   `json:"text"`
	Ts         string   `json:"ts"`
	ThreadTs   string   `json:"threadTs"`
	QueuedAt   string   `json:"queuedAt"` // ISO-8601; sort key
	ImagePaths []string `json:"imagePaths,omitempty"`
}

// Queue is a durable, channel-scoped FIFO rooted at one directory.
type Queue struct {
	dir string
}

// Open returns a Queue rooted at dir, creating it if necessary.
func Open(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("queue: create %s: %w", dir, err)
	}
	return &Queue{dir: dir}, nil
}

// filename derives a host-filesystem-safe, unique-per-(channelId,ts) name.
// Collisions (same channelId and ts) are expected to represent the same
// logical message and overwrite in place.
func (q *Queue) filename(channelID, ts string) string {
	safeTs := strings.ReplaceAll(ts, ".", "-")
	return filepath.Join(q.dir, channelID+"_"+safeTs+".json")
}

// Enqueue persists m, overwriting any existing record for the same
// (channelId, ts). The write is atomic (write to a temp file, then
// rename into place) so a crash mid-write never leaves a truncated
// record for the drain loop to trip over. Write errors propagate so the
// caller can report failure back to the user.
func (q *Queue) Enqueue(m QueuedMessage) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}
	path := q.filename(m.ChannelID, m.Ts)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("queue: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("queue: rename %s: %w", tmp, err)
	}
	return nil
}

// Dequeue removes the record for (channelId, ts), reporting whether one
// existed.
func (q *Queue) Dequeue(channelID, ts string) bool {
	path := q.filename(channelID, ts)
	err := os.Remove(path)
	return err == nil
}

// GetPending returns every persisted record, sorted ascending by QueuedAt.
// Individual unreadable or malformed records are skipped rather than
// failing the whole read.
func (q *Queue) GetPending() []QueuedMessage {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil
	}

	out := make([]QueuedMessage, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(q.dir, ent.Name()))
		if err != nil {
			continue
		}
		var m QueuedMessage
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt < out[j].QueuedAt })
	return out
}

// GetPendingForChannel filters GetPending to one channel.
func (q *Queue) GetPendingForChannel(channelID string) []QueuedMessage {
	all := q.GetPending()
	out := all[:0]
	for _, m := range all {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	return out
}

// UpdateQueuedText replaces the text of a still-queued record in place,
// reporting whether a record existed to update. Used when the user edits
// a message that has not yet reached the processing stage.
func (q *Queue) UpdateQueuedText(channelID, ts, newText string) bool {
	path := q.filename(channelID, ts)
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var m QueuedMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	m.Text = newText
	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return false
	}
	tmp := path + ".tmp"
	if os.WriteFile(tmp, out, 0644) != nil {
		return false
	}
	return os.Rename(tmp, path) == nil
}
