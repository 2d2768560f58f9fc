// Package role holds the role (AI人设) domain model and the draft artifact
// produced by the role assistant pipeline.
package role

import "time"

// Role is a persisted chat persona. Private roles belong to a single user.
type Role struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId,omitempty"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	PersonaPrompt    string    `json:"personaPrompt"`
	GreetingMessage  string    `json:"greetingMessage"`
	GreetingAudioURL string    `json:"greetingAudioUrl,omitempty"`
	AvatarURL        string    `json:"avatarUrl,omitempty"`
	VoiceType        string    `json:"voiceType"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Source is one reference backing a draft field, kept for traceability.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Brief is the structured role draft reconstructed from ROLE_BRIEF
// checkpoints. It is never persisted in its own table.
type Brief struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	PersonaPrompt   string   `json:"personaPrompt"`
	GreetingMessage string   `json:"greetingMessage"`
	AvatarURL       string   `json:"avatarUrl"`
	VoiceType       string   `json:"voiceType"`
	Sources         []Source `json:"sources"`
	Disclaimers     []string `json:"disclaimers"`
}

// ResearchTask is a suggested web query shown to the user before deep
// research is applied.
type ResearchTask struct {
	ID        string `json:"id"`
	Query     string `json:"query"`
	Rationale string `json:"rationale"`
	Enabled   bool   `json:"enabled"`
}

// ResearchTaskPreview bundles suggested tasks with the limit policy.
type ResearchTaskPreview struct {
	Tasks        []ResearchTask `json:"tasks"`
	DefaultLimit int            `json:"defaultLimit"`
	MaxLimit     int            `json:"maxLimit"`
}
