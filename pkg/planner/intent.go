package planner

import (
	"context"
	"log/slog"

	"github.com/zulu-cp/core/pkg/llmprovider"
)

const intentSystemPrompt = `You are Zulu's intent parser. Analyze user messages and extract structured intent.

Given a user message, respond with JSON:
{
    "intent_type": one of ["research", "synthesize", "analyze", "draft", "review", "extract", "clarify", "chitchat", "unknown"],
    "confidence": float 0.0-1.0,
    "subject": what the task is about,
    "deliverable": what user expects back (or null),
    "constraints": list of constraints mentioned,
    "needs_clarification": boolean,
    "clarification_question": question to ask if needs_clarification is true
}

RULES:
1. If the request references content that wasn't provided (code to review, documents to analyze, data to extract from), set needs_clarification to true and ask for the missing content.
2. If the message is malformed, empty, or genuinely unparseable, return {"intent_type": "unknown", "confidence": 0.0, "subject": "", "needs_clarification": true, "clarification_question": "I couldn't understand that. Could you rephrase?"}.
3. If the request is vague but you can make a reasonable guess, set confidence lower (0.4-0.6) rather than asking for clarification.
4. IMPORTANT: If the message describes criteria, preferences, or constraints for finding/researching something, treat it as a RESEARCH request, NOT chitchat. Statements like "romantic dinner downtown" or "escape rooms for couples" are research requests.
5. Only classify as "chitchat" for pure greetings, small talk, or off-topic conversation. When in doubt, classify as "research".

Examples:

User: "Research my competitors in the EV charging space and draft a one-pager"
{"intent_type": "research", "confidence": 0.9, "subject": "competitors in EV charging market", "deliverable": "one-pager document", "constraints": ["EV charging industry"], "needs_clarification": false, "clarification_question": null}

User: "Can you help me with something?"
{"intent_type": "clarify", "confidence": 0.3, "subject": "unknown", "deliverable": null, "constraints": [], "needs_clarification": true, "clarification_question": "I'd be happy to help! What are you working on?"}

User: "Hey, how's it going?"
{"intent_type": "chitchat", "confidence": 0.95, "subject": "greeting", "deliverable": null, "constraints": [], "needs_clarification": false, "clarification_question": null}

User: "Analyze the pros and cons of Rust vs Go for our backend"
{"intent_type": "analyze", "confidence": 0.95, "subject": "Rust vs Go for backend development", "deliverable": "comparative analysis", "constraints": ["backend context"], "needs_clarification": false, "clarification_question": null}

User: "Write me a blog post about AI safety"
{"intent_type": "draft", "confidence": 0.9, "subject": "AI safety", "deliverable": "blog post", "constraints": [], "needs_clarification": false, "clarification_question": null}

User: "Review this code for security issues"
{"intent_type": "review", "confidence": 0.85, "subject": "code security review", "deliverable": "security assessment", "constraints": ["security focus"], "needs_clarification": true, "clarification_question": "I can help review code for security issues. Could you share the code you'd like me to review?"}

User: "Best restaurants in Austin for a business dinner"
{"intent_type": "research", "confidence": 0.9, "subject": "business dinner restaurants in Austin", "deliverable": "restaurant recommendations", "constraints": ["Austin", "business appropriate"], "needs_clarification": false, "clarification_question": null}

Respond ONLY with JSON.`

var intentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intent_type": map[string]any{
			"type": "string",
			"enum": []string{"research", "synthesize", "analyze", "draft", "review", "extract", "clarify", "chitchat", "unknown"},
		},
		"confidence":             map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"subject":                map[string]any{"type": "string"},
		"deliverable":            map[string]any{"type": []string{"string", "null"}},
		"constraints":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"needs_clarification":    map[string]any{"type": "boolean"},
		"clarification_question": map[string]any{"type": []string{"string", "null"}},
	},
	"required": []string{"intent_type", "confidence", "subject", "needs_clarification"},
}

var validIntentTypes = map[string]IntentType{
	"research":   IntentResearch,
	"synthesize": IntentSynthesize,
	"analyze":    IntentAnalyze,
	"draft":      IntentDraft,
	"review":     IntentReview,
	"extract":    IntentExtract,
	"clarify":    IntentClarify,
	"chitchat":   IntentChitchat,
	"unknown":    IntentUnknown,
}

// IntentParser classifies raw user input into a ParsedIntent via a single
// structured-JSON model call.
type IntentParser struct {
	provider llmprovider.Provider
	model    string
	logger   *slog.Logger
}

// NewIntentParser constructs a parser bound to one provider/model pair.
func NewIntentParser(provider llmprovider.Provider, model string, logger *slog.Logger) *IntentParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentParser{provider: provider, model: model, logger: logger}
}

// Parse classifies userInput, falling back to an UNKNOWN/needs-clarification
// result on any request or decode failure.
func (p *IntentParser) Parse(ctx context.Context, userInput string) ParsedIntent {
	parsed, err := p.provider.CompleteJSON(ctx, []llmprovider.Message{{Role: "user", Content: userInput}}, p.model, intentSchema, llmprovider.CompletionOptions{
		System:      intentSystemPrompt,
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		p.logger.Error("intent parsing failed", "error", err)
		return ParsedIntent{
			IntentType:            IntentUnknown,
			Confidence:            0,
			RawInput:              userInput,
			NeedsClarification:    true,
			ClarificationQuestion: "I had trouble understanding that. Could you rephrase?",
		}
	}

	intentStr, _ := parsed["intent_type"].(string)
	intentType, ok := validIntentTypes[intentStr]
	if !ok {
		intentType = IntentUnknown
	}

	confidence := 0.5
	if c, ok := parsed["confidence"].(float64); ok {
		confidence = c
	}

	var constraints []string
	if raw, ok := parsed["constraints"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				constraints = append(constraints, s)
			}
		}
	}

	deliverable, _ := parsed["deliverable"].(string)
	subject, _ := parsed["subject"].(string)
	needsClarification, _ := parsed["needs_clarification"].(bool)
	clarificationQuestion, _ := parsed["clarification_question"].(string)

	return ParsedIntent{
		IntentType:            intentType,
		Confidence:            confidence,
		Subject:               subject,
		Deliverable:           deliverable,
		Constraints:           constraints,
		RawInput:              userInput,
		NeedsClarification:    needsClarification,
		ClarificationQuestion: clarificationQuestion,
	}
}
