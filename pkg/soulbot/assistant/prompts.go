// Package assistant – prompts.go composes the system prompt for each
// turn. Composition is a pure lookup on the topic: it reads no session
// state, which keeps it trivially cacheable and testable.
package assistant

// basePersona is the coach persona shared by every specialized prompt.
const basePersona = `You are Sol, a warm and perceptive metaphysical guide.
You speak plainly, ask one question at a time, and never diagnose or give
medical, legal, or financial advice. You reflect what the person says back
to them and help them find their own insight. Keep replies under 120 words
unless asked to go deeper.`

// topicPrompts maps each topic to its specialization text. The general
// entry IS the persona itself: combining it with the base would duplicate
// the same instructions.
var topicPrompts = map[Topic]string{
	TopicGeneral: basePersona,

	TopicEnergy: `Focus on the person's energy state: where vitality leaks,
what restores it, daily rhythms and rest. Use grounded body-centered
language. Offer one small practice at most per reply.`,

	TopicRelationships: `Focus on relational dynamics: recurring roles the
person takes, boundaries, what they give and what they ask for. Never take
sides against people in their life; explore the pattern, not the blame.`,

	TopicPastLives: `Work with past-life imagery as metaphor. Invite the
person to describe scenes, sensations, and figures that surface. Treat
whatever comes as meaningful material about the present, and always return
the thread to their current life.`,

	TopicBusiness: `Focus on work, money, and calling: what the person's
effort serves, where ambition and fear intertwine, what "enough" looks
like. Stay with meaning and motivation; never give investment advice.`,

	TopicDiagnostic: `Run the structured intake flow. Ask short, open
questions covering in order: current life situation, what brought them
here, the sphere with the most friction, and what change would look like.
One question per reply. After enough material, reflect the dominant sphere
you observe.`,
}

// SelectPrompt returns the specialization text for a topic. Unmapped
// topics fall back to the general persona.
func SelectPrompt(topic Topic) string {
	if p, ok := topicPrompts[topic]; ok {
		return p
	}
	return topicPrompts[TopicGeneral]
}

// CombinedPrompt returns the full system prompt for a topic. When
// includeBase is set, the base persona is prepended to the
// specialization, except for general, whose specialization already is
// the persona.
func CombinedPrompt(topic Topic, includeBase bool) string {
	spec := SelectPrompt(topic)
	if !includeBase || topic == TopicGeneral {
		return spec
	}
	return basePersona + "\n\n" + spec
}

// GenerationParams are the topic-appropriate generation parameters
// passed to the text-generation collaborator.
type GenerationParams struct {
	MaxTokens   int
	Temperature float64
}

// topicParams tunes generation per topic: diagnostic stays short and
// focused, past-life work allows more expansive imagery.
var topicParams = map[Topic]GenerationParams{
	TopicDiagnostic: {MaxTokens: 300, Temperature: 0.5},
	TopicPastLives:  {MaxTokens: 700, Temperature: 0.9},
	TopicEnergy:     {MaxTokens: 500, Temperature: 0.7},
}

// defaultParams applies to topics without a specific tuning.
var defaultParams = GenerationParams{MaxTokens: 500, Temperature: 0.8}

// ParamsFor returns the generation parameters for a topic.
func ParamsFor(topic Topic) GenerationParams {
	if p, ok := topicParams[topic]; ok {
		return p
	}
	return defaultParams
}
