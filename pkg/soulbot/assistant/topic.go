// Package assistant – topic.go implements the per-message topic
// classifier. Classification is a pure function over the message and a
// short slice of history: no allocation-heavy machinery, no model calls,
// identical input always yields the same topic.
package assistant

import (
	"strings"

	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

// Topic is the per-message classification label used to select a
// specialized persona. It is independent of the session type.
type Topic string

const (
	TopicEnergy        Topic = "energy"
	TopicRelationships Topic = "relationships"
	TopicPastLives     Topic = "past_lives"
	TopicBusiness      Topic = "business"
	TopicGeneral       Topic = "general"
	TopicDiagnostic    Topic = "diagnostic"
)

// KnownTopics lists every topic a message can classify into.
var KnownTopics = []Topic{
	TopicEnergy, TopicRelationships, TopicPastLives,
	TopicBusiness, TopicGeneral, TopicDiagnostic,
}

// Valid reports whether t is a known topic.
func (t Topic) Valid() bool {
	for _, k := range KnownTopics {
		if t == k {
			return true
		}
	}
	return false
}

// historyScanDepth is how many recent turns the fallback scan covers
// when the message itself matches nothing.
const historyScanDepth = 5

// Keyword sets, evaluated in fixed priority order. Past-life vocabulary
// goes first: "karmic relationship" must classify as past_lives, not
// relationships, so the most specific set wins.
var topicKeywords = []struct {
	topic    Topic
	keywords []string
}{
	{TopicPastLives, []string{
		"past life", "past lives", "previous life", "previous incarnation",
		"incarnation", "reincarnation", "karma", "karmic", "soul contract",
		"soul memory", "deja vu", "ancestral memory",
	}},
	{TopicEnergy, []string{
		"energy", "chakra", "aura", "vitality", "drained", "exhausted",
		"burnout", "burned out", "no strength", "fatigue", "tired all the time",
		"blocked flow", "heaviness",
	}},
	{TopicRelationships, []string{
		"relationship", "partner", "husband", "wife", "boyfriend", "girlfriend",
		"marriage", "divorce", "mother", "father", "parents", "family",
		"loneliness", "lonely", "love", "breakup", "betrayal", "jealousy",
	}},
	{TopicBusiness, []string{
		"business", "money", "income", "career", "job", "work", "salary",
		"clients", "startup", "purpose", "calling", "mission", "finance",
		"abundance", "poverty", "debt",
	}},
}

// DetectTopic classifies one message into a topic.
//
// Order of resolution:
//  1. Keyword tests over the message, in fixed priority; first match wins.
//  2. Empty history and no match → diagnostic (new users default into
//     the structured diagnostic flow).
//  3. Non-empty history → the same ordered tests over the last 5 turns.
//  4. Profile hint: a stored dominant sphere naming a topic.
//  5. general.
func DetectTopic(message string, history []session.Turn, profile *session.MetaphysicalProfile) Topic {
	if t, ok := matchKeywords(message); ok {
		return t
	}

	if len(history) == 0 {
		return TopicDiagnostic
	}

	recent := history
	if len(recent) > historyScanDepth {
		recent = recent[len(recent)-historyScanDepth:]
	}
	for _, set := range topicKeywords {
		for _, turn := range recent {
			if containsAny(turn.Content, set.keywords) {
				return set.topic
			}
		}
	}

	if profile != nil {
		if t := Topic(profile.DominantSphere); t.Valid() && t != TopicGeneral && t != TopicDiagnostic {
			return t
		}
	}

	return TopicGeneral
}

// matchKeywords runs the ordered keyword tests over one text.
func matchKeywords(text string) (Topic, bool) {
	for _, set := range topicKeywords {
		if containsAny(text, set.keywords) {
			return set.topic, true
		}
	}
	return TopicGeneral, false
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
