package suggest

import "strings"

// maxRecentTopics bounds the recency window used for dedup.
const maxRecentTopics = 10

// topicsSimilar reports whether two topics cover the same ground. The check
// is case-insensitive and symmetric: equal strings match, and so does one
// topic containing the other ("salary" vs "salary negotiation").
func topicsSimilar(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// topicSet is a FIFO set of recently handled topics. Oldest entries fall off
// once the capacity is reached. Not safe for concurrent use; callers hold the
// pipeline lock.
type topicSet struct {
	cap    int
	topics []string
}

func newTopicSet(cap int) *topicSet {
	return &topicSet{cap: cap}
}

// Add records a topic, evicting the oldest entry when full.
func (ts *topicSet) Add(topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	ts.topics = append(ts.topics, topic)
	if len(ts.topics) > ts.cap {
		ts.topics = ts.topics[len(ts.topics)-ts.cap:]
	}
}

// Remove deletes the oldest exact occurrence of topic, if present. Topics
// already evicted by the FIFO cap are silently absent.
func (ts *topicSet) Remove(topic string) {
	topic = strings.TrimSpace(topic)
	for i, t := range ts.topics {
		if t == topic {
			ts.topics = append(ts.topics[:i], ts.topics[i+1:]...)
			return
		}
	}
}

// ContainsSimilar reports whether any recorded topic is similar to topic.
func (ts *topicSet) ContainsSimilar(topic string) bool {
	for _, t := range ts.topics {
		if topicsSimilar(t, topic) {
			return true
		}
	}
	return false
}

// Topics returns a copy of the recorded topics, oldest first.
func (ts *topicSet) Topics() []string {
	out := make([]string, len(ts.topics))
	copy(out, ts.topics)
	return out
}
