package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dialbridge/internal/callstore"
)

// ErrContextUnavailable means the relay must not start a realtime session:
// an agentless session is a configuration error, not a retryable runtime one.
var ErrContextUnavailable = errors.New("session context unavailable")

// Context is everything the relay needs to drive one conversation. It is a
// transient view composed once at session start; the store stays authoritative.
type Context struct {
	CallID         string
	Record         callstore.CallRecord
	Agent          callstore.AgentConfig
	Contact        callstore.Contact
	VoiceID        string
	OpeningMessage string

	// Instructions is the fully composed system prompt: agent prompt plus
	// campaign script, knowledge base plus campaign knowledge, contact block.
	Instructions string
}

// Initializer loads and composes the per-call conversational context.
type Initializer struct {
	store callstore.Store
}

func NewInitializer(store callstore.Store) *Initializer {
	return &Initializer{store: store}
}

// Initialize builds the Context for one call record. Missing campaign or
// contact associations degrade to placeholders; a missing agent is fatal.
func (i *Initializer) Initialize(ctx context.Context, callID string) (Context, error) {
	rec, err := i.store.GetCall(ctx, callID)
	if err != nil {
		return Context{}, fmt.Errorf("load call %s: %w", callID, err)
	}

	if rec.AgentID == "" {
		return Context{}, fmt.Errorf("call %s has no agent: %w", callID, ErrContextUnavailable)
	}
	agent, err := i.store.GetAgent(ctx, rec.AgentID)
	if err != nil {
		return Context{}, fmt.Errorf("load agent %s: %w", rec.AgentID, ErrContextUnavailable)
	}

	var campaign callstore.Campaign
	if rec.CampaignID != "" {
		campaign, err = i.store.GetCampaign(ctx, rec.CampaignID)
		if err != nil && !errors.Is(err, callstore.ErrNotFound) {
			return Context{}, fmt.Errorf("load campaign %s: %w", rec.CampaignID, err)
		}
	}

	var contact callstore.Contact
	if rec.ContactID != "" {
		contact, err = i.store.GetContact(ctx, rec.ContactID)
		if err != nil && !errors.Is(err, callstore.ErrNotFound) {
			return Context{}, fmt.Errorf("load contact %s: %w", rec.ContactID, err)
		}
	}
	if contact.PhoneNumber == "" {
		contact.PhoneNumber = rec.PhoneNumber
	}

	return Context{
		CallID:         rec.ID,
		Record:         rec,
		Agent:          agent,
		Contact:        contact,
		VoiceID:        agent.VoiceID,
		OpeningMessage: agent.OpeningMessage,
		Instructions:   composeInstructions(agent, campaign, contact),
	}, nil
}

func composeInstructions(agent callstore.AgentConfig, campaign callstore.Campaign, contact callstore.Contact) string {
	var b strings.Builder

	prompt := strings.TrimSpace(agent.SystemPrompt)
	if prompt != "" {
		b.WriteString(prompt)
	}
	if p := strings.TrimSpace(agent.Personality); p != "" {
		writeSection(&b, "Personality", p)
	}
	if script := strings.TrimSpace(campaign.CustomScript); script != "" {
		writeSection(&b, "Campaign script", script)
	}

	knowledge := strings.TrimSpace(agent.KnowledgeBase)
	if extra := strings.TrimSpace(campaign.CustomKnowledge); extra != "" {
		if knowledge != "" {
			knowledge += "\n" + extra
		} else {
			knowledge = extra
		}
	}
	if knowledge != "" {
		writeSection(&b, "Knowledge base", knowledge)
	}

	writeSection(&b, "Contact", contactBlock(contact))
	return b.String()
}

func writeSection(b *strings.Builder, title, body string) {
	if b.Len() > 0 {
		b.WriteString("\n\n")
	}
	b.WriteString(title)
	b.WriteString(":\n")
	b.WriteString(body)
}

func contactBlock(c callstore.Contact) string {
	return fmt.Sprintf("Name: %s\nCompany: %s\nNumber: %s",
		orUnknown(c.Name), orUnknown(c.Company), orUnknown(c.PhoneNumber))
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
