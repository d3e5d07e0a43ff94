package notify

import (
	"context"
	"sync"

	"github.com/commercebase/billing/pkg/observability"
)

// LogNotifier writes notifications to the structured log instead of a
// broker. Used in development and offline mode.
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a notifier backed by the given logger.
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Enqueue(ctx context.Context, topic string, payload map[string]any) error {
	n.logger.WithFields(map[string]interface{}{
		"topic":   topic,
		"payload": payload,
	}).Info("notification enqueued")
	return nil
}

// Recorder captures enqueued notifications for test assertions.
type Recorder struct {
	mu      sync.Mutex
	entries []Recorded
}

// Recorded is one captured notification.
type Recorded struct {
	Topic   string
	Payload map[string]any
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Enqueue(ctx context.Context, topic string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Recorded{Topic: topic, Payload: payload})
	return nil
}

// ByTopic returns the captured notifications for topic.
func (r *Recorder) ByTopic(topic string) []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Recorded
	for _, e := range r.entries {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// All returns every captured notification in order.
func (r *Recorder) All() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.entries...)
}

var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Recorder)(nil)
)
