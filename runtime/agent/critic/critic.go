// Package critic implements the optional review step a reasoning loop can
// apply to a proposed Respond/Terminate action before it is surfaced as
// output.
package critic

import (
	"context"

	"github.com/agentmesh/agentrt/runtime/agent/action"
	"github.com/agentmesh/agentrt/runtime/agent/conv"
)

// Verdict is a Critic's judgment of a candidate final action.
type Verdict struct {
	// Accept, if true, lets the candidate action stand unchanged.
	Accept bool
	// Feedback is appended as a synthesized user message and the
	// iteration is re-run when Accept is false.
	Feedback string
}

// Critic reviews a candidate Respond or Terminate action against the
// conversation that produced it.
type Critic interface {
	Review(ctx context.Context, c conv.Conversation, candidate action.ProposedAction) (Verdict, error)
}

// CriticFunc adapts a function to a Critic.
type CriticFunc func(ctx context.Context, c conv.Conversation, candidate action.ProposedAction) (Verdict, error)

func (f CriticFunc) Review(ctx context.Context, c conv.Conversation, candidate action.ProposedAction) (Verdict, error) {
	return f(ctx, c, candidate)
}

// AlwaysAccept is a Critic that accepts every candidate, used when no
// review step is configured.
func AlwaysAccept() Critic {
	return CriticFunc(func(context.Context, conv.Conversation, action.ProposedAction) (Verdict, error) {
		return Verdict{Accept: true}, nil
	})
}

// Inference is the narrow subset of inference.Provider a Critic needs, kept
// local to avoid an import cycle between critic and inference.
type Inference interface {
	Complete(ctx context.Context, c conv.Conversation) (string, error)
}

// LLM is a Critic backed by a model completion: it asks the model whether
// the candidate output is acceptable given the conversation, via a single
// yes/no-style prompt appended as a User message.
type LLM struct {
	Infer Inference
	// Prompt builds the review prompt appended to c before asking Infer.
	// If nil, a default instructs the model to reply exactly "ACCEPT" or
	// "REVISE: <feedback>".
	Prompt func(candidate action.ProposedAction) string
}

func (l LLM) Review(ctx context.Context, c conv.Conversation, candidate action.ProposedAction) (Verdict, error) {
	prompt := l.Prompt
	if prompt == nil {
		prompt = defaultPrompt
	}
	review := c.Clone()
	review.Messages = append(review.Messages, conv.Message{Role: conv.RoleUser, Content: prompt(candidate)})

	reply, err := l.Infer.Complete(ctx, review)
	if err != nil {
		return Verdict{}, err
	}
	return parseVerdict(reply), nil
}

func defaultPrompt(candidate action.ProposedAction) string {
	content := ""
	switch v := candidate.(type) {
	case action.Respond:
		content = v.Content
	case action.Terminate:
		content = v.Output
	}
	return "Review the following proposed response for correctness and completeness. " +
		"Reply with exactly \"ACCEPT\" if it is acceptable, or \"REVISE: <feedback>\" " +
		"describing what must change.\n\nProposed response:\n" + content
}

func parseVerdict(reply string) Verdict {
	const revisePrefix = "REVISE:"
	trimmed := reply
	for len(trimmed) > 0 && (trimmed[0] == ' ' || trimmed[0] == '\n' || trimmed[0] == '\t') {
		trimmed = trimmed[1:]
	}
	if len(trimmed) >= len(revisePrefix) && trimmed[:len(revisePrefix)] == revisePrefix {
		return Verdict{Accept: false, Feedback: trimmed[len(revisePrefix):]}
	}
	return Verdict{Accept: true}
}

// Human is a Critic backed by an external human-in-the-loop review,
// dispatched through the same pause/resume signal mechanism as any other
// interruption (see runtime/agent/interrupt).
type Human struct {
	// RequestReview blocks until a human reviewer responds.
	RequestReview func(ctx context.Context, c conv.Conversation, candidate action.ProposedAction) (Verdict, error)
}

func (h Human) Review(ctx context.Context, c conv.Conversation, candidate action.ProposedAction) (Verdict, error) {
	return h.RequestReview(ctx, c, candidate)
}
