package assistant

import (
	"testing"

	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

func turns(contents ...string) []session.Turn {
	out := make([]session.Turn, 0, len(contents))
	for i, c := range contents {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		out = append(out, session.Turn{Role: role, Content: c})
	}
	return out
}

func TestDetectTopicMessageKeywords(t *testing.T) {
	history := turns("hi", "hello")

	tests := []struct {
		name    string
		message string
		want    Topic
	}{
		{"energy", "I feel completely drained lately", TopicEnergy},
		{"relationships", "my husband never listens to me", TopicRelationships},
		{"past lives", "could this come from a past life?", TopicPastLives},
		{"business", "my business is falling apart", TopicBusiness},
		{"case insensitive", "MY CHAKRA FEELS BLOCKED", TopicEnergy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectTopic(tt.message, history, nil)
			if got != tt.want {
				t.Errorf("DetectTopic(%q) = %s, want %s", tt.message, got, tt.want)
			}
		})
	}
}

// Past-life vocabulary outranks every other set even when the message
// also matches a lower-priority set.
func TestDetectTopicPriority(t *testing.T) {
	got := DetectTopic("I think my marriage is a karmic relationship", nil, nil)
	if got != TopicPastLives {
		t.Fatalf("DetectTopic = %s, want %s", got, TopicPastLives)
	}

	got = DetectTopic("work leaves me drained and exhausted", turns("hi"), nil)
	if got != TopicEnergy {
		t.Fatalf("DetectTopic = %s, want %s (energy outranks business)", got, TopicEnergy)
	}
}

func TestDetectTopicNewUserDefaultsToDiagnostic(t *testing.T) {
	got := DetectTopic("hello", nil, nil)
	if got != TopicDiagnostic {
		t.Fatalf("DetectTopic(new user, no keywords) = %s, want %s", got, TopicDiagnostic)
	}
}

func TestDetectTopicHistoryFallback(t *testing.T) {
	// The message itself matches nothing; the recent history does.
	history := turns(
		"I keep thinking about my father",
		"Tell me more about that.",
	)
	got := DetectTopic("I don't know what to say", history, nil)
	if got != TopicRelationships {
		t.Fatalf("DetectTopic = %s, want %s", got, TopicRelationships)
	}
}

func TestDetectTopicHistoryScanDepth(t *testing.T) {
	// The only keyword sits 6 turns back, outside the scan window.
	history := turns(
		"my chakra feels off",
		"mm", "mm", "mm", "mm", "mm",
	)
	got := DetectTopic("nothing in particular", history, nil)
	if got != TopicGeneral {
		t.Fatalf("DetectTopic = %s, want %s (keyword outside window)", got, TopicGeneral)
	}
}

func TestDetectTopicProfileTieBreak(t *testing.T) {
	history := turns("mm", "mm")
	profile := &session.MetaphysicalProfile{DominantSphere: "business"}

	got := DetectTopic("nothing much today", history, profile)
	if got != TopicBusiness {
		t.Fatalf("DetectTopic = %s, want %s via profile", got, TopicBusiness)
	}

	// A profile naming a non-topic sphere is ignored.
	profile.DominantSphere = "astral"
	got = DetectTopic("nothing much today", history, profile)
	if got != TopicGeneral {
		t.Fatalf("DetectTopic = %s, want %s", got, TopicGeneral)
	}
}

func TestDetectTopicDeterministic(t *testing.T) {
	history := turns("my partner and my job both wear me down", "I hear you.")
	first := DetectTopic("what should I do", history, nil)
	for i := 0; i < 20; i++ {
		if got := DetectTopic("what should I do", history, nil); got != first {
			t.Fatalf("run %d: DetectTopic = %s, earlier runs gave %s", i, got, first)
		}
	}
}
