// Package contextmgr implements the strategies that keep a Conversation
// within a model's context window between Reason-phase calls.
//
// The three strategies and their exact trimming semantics are grounded in
// original_source/crates/runtime/src/reasoning/context_manager.rs:
// SlidingWindow (the default; drop oldest non-anchored messages until the
// estimated token count fits), ObservationMasking (replace all but the
// most-recent 6 Tool messages' content with a placeholder; a no-op when the
// conversation has 3 or fewer messages), and AnchoredSummary (pin System and
// the first User message when either sits at index 0 or 1, synthesize a
// single User-role summary message carrying the messages_omitted/tool_calls/
// tool_results counts for everything it drops, and fall back to
// SlidingWindow when no valid anchor exists).
package contextmgr

import (
	"fmt"

	"github.com/agentmesh/agentrt/runtime/agent/conv"
)

// Strategy trims a Conversation to fit within maxTokens, returning the
// possibly-modified conversation and the token estimate after trimming. A
// Strategy must never reorder messages and must never break the invariant
// that every Tool message's ToolCallID matches a preceding Assistant
// message's ToolCallRequest.
type Strategy interface {
	// Name identifies the strategy for journaling (JournalEntry.Event =
	// ContextManaged{Strategy: s.Name()}).
	Name() string
	Manage(c conv.Conversation, maxTokens int) (conv.Conversation, int)
}

// maskedPlaceholderFormat replaces the content of an older Tool message under
// ObservationMasking; %s is the message's ToolName.
const maskedPlaceholderFormat = "[previous %s result omitted]"

// SlidingWindow drops the oldest non-anchored messages until the
// conversation fits within maxTokens. The first System message, if present,
// is always retained regardless of position.
type SlidingWindow struct{}

func (SlidingWindow) Name() string { return "sliding_window" }

func (s SlidingWindow) Manage(c conv.Conversation, maxTokens int) (conv.Conversation, int) {
	out := c.Clone()
	if conv.EstimateTokens(out) <= maxTokens {
		return out, conv.EstimateTokens(out)
	}

	sysIdx := out.FirstSystemIndex()

	// Drop from the front, skipping the anchored system message, until the
	// estimate fits or only the anchor (plus the single most recent message)
	// remains.
	for conv.EstimateTokens(out) > maxTokens && len(out.Messages) > 1 {
		dropAt := 0
		if dropAt == sysIdx {
			if len(out.Messages) <= 2 {
				break
			}
			dropAt = 1
		}
		out.Messages = append(out.Messages[:dropAt], out.Messages[dropAt+1:]...)
		if sysIdx > dropAt {
			sysIdx--
		}
	}
	return out, conv.EstimateTokens(out)
}

// ObservationMasking keeps all messages but blanks the content of every Tool
// message except the 6 most recent, bounding the dominant cost (tool
// output) while preserving conversational shape. It is a no-op when the
// conversation has 3 or fewer messages, per original_source semantics: short
// conversations are assumed to already fit. maxTokens is not consulted:
// masking is applied whatever the budget, and the masked conversation is
// returned even if it still exceeds maxTokens (no SlidingWindow fallback).
type ObservationMasking struct{}

func (ObservationMasking) Name() string { return "observation_masking" }

const observationMaskingKeepRecent = 6

func (ObservationMasking) Manage(c conv.Conversation, maxTokens int) (conv.Conversation, int) {
	out := c.Clone()
	if len(out.Messages) <= 3 {
		return out, conv.EstimateTokens(out)
	}

	toolIdxs := make([]int, 0, len(out.Messages))
	for i, m := range out.Messages {
		if m.Role == conv.RoleTool {
			toolIdxs = append(toolIdxs, i)
		}
	}
	if len(toolIdxs) > observationMaskingKeepRecent {
		maskCount := len(toolIdxs) - observationMaskingKeepRecent
		for _, idx := range toolIdxs[:maskCount] {
			out.Messages[idx].Content = fmt.Sprintf(maskedPlaceholderFormat, out.Messages[idx].ToolName)
		}
	}
	return out, conv.EstimateTokens(out)
}

// AnchoredSummary pins the System message and the first User message (when
// found at index 0 or 1) and collapses everything between the anchors and
// the most recent messages into a single synthesized User-role message. If
// no valid anchor is found — no System message and no User message within
// the first two entries — it falls back to SlidingWindow. The summarized
// conversation is returned even if it still exceeds maxTokens; SlidingWindow
// is not applied to it.
type AnchoredSummary struct {
	// Summarize produces the summary content for the dropped message range.
	// If nil, a deterministic summary reporting messages_omitted, tool_calls,
	// and tool_results counts is used.
	Summarize func(dropped []conv.Message) string
}

func (AnchoredSummary) Name() string { return "anchored_summary" }

// anchoredSummaryKeepRecent is the number of most-recent messages preserved
// verbatim after the anchors, matching the reference scheduler's
// tail-preservation window.
const anchoredSummaryKeepRecent = 4

func (a AnchoredSummary) Manage(c conv.Conversation, maxTokens int) (conv.Conversation, int) {
	if conv.EstimateTokens(c) <= maxTokens {
		out := c.Clone()
		return out, conv.EstimateTokens(out)
	}

	anchorEnd, ok := a.findAnchor(c)
	if !ok {
		return (SlidingWindow{}).Manage(c, maxTokens)
	}

	tailStart := len(c.Messages) - anchoredSummaryKeepRecent
	if tailStart <= anchorEnd {
		// Nothing worth summarizing between the anchor and the tail; fall
		// back rather than synthesize an empty summary.
		return (SlidingWindow{}).Manage(c, maxTokens)
	}

	dropped := c.Messages[anchorEnd:tailStart]
	summaryText := a.summarize(dropped)

	out := conv.Conversation{}
	out.Messages = append(out.Messages, c.Messages[:anchorEnd]...)
	out.Messages = append(out.Messages, conv.Message{
		Role:    conv.RoleUser,
		Content: summaryText,
	})
	out.Messages = append(out.Messages, c.Messages[tailStart:]...)
	return out, conv.EstimateTokens(out)
}

func (a AnchoredSummary) summarize(dropped []conv.Message) string {
	if a.Summarize != nil {
		return a.Summarize(dropped)
	}
	toolCalls, toolResults := 0, 0
	for _, m := range dropped {
		toolCalls += len(m.ToolCalls)
		if m.Role == conv.RoleTool {
			toolResults++
		}
	}
	return fmt.Sprintf(
		"[summary of earlier context omitted to conserve tokens: messages_omitted=%d tool_calls=%d tool_results=%d]",
		len(dropped), toolCalls, toolResults,
	)
}

// findAnchor locates the end of the anchored prefix: the index immediately
// after the last of {System message at index 0, first User message at index
// 0 or 1}. Returns ok=false if neither anchor exists.
func (AnchoredSummary) findAnchor(c conv.Conversation) (anchorEnd int, ok bool) {
	if len(c.Messages) == 0 {
		return 0, false
	}
	hasSystem := c.Messages[0].Role == conv.RoleSystem
	firstUser := -1
	for i := 0; i < len(c.Messages) && i <= 1; i++ {
		if c.Messages[i].Role == conv.RoleUser {
			firstUser = i
			break
		}
	}
	switch {
	case hasSystem && firstUser >= 0:
		return firstUser + 1, true
	case hasSystem:
		return 1, true
	case firstUser >= 0:
		return firstUser + 1, true
	default:
		return 0, false
	}
}
