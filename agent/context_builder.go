package agent

import (
	"fmt"
	"strings"
)

// ContextBuilder assembles the system prompt handed to the model each turn,
// folding in a base identity prompt plus whichever skill content is relevant
// for the current state (a summary on the first pass, full content once a
// skill has actually been loaded).
type ContextBuilder struct {
	basePrompt string
}

// NewContextBuilder creates a builder with the given base identity prompt.
func NewContextBuilder(basePrompt string) *ContextBuilder {
	return &ContextBuilder{basePrompt: basePrompt}
}

// buildSkillsPrompt renders a summary listing of the skills available to the
// agent (name + description), to be offered to the model so it can decide
// whether to load one.
func (b *ContextBuilder) buildSkillsPrompt(skills []Skill, mode PromptMode) string {
	if mode == PromptModeNone || len(skills) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Available skills:\n")
	for _, s := range skills {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Description)
	}
	return sb.String()
}

// buildSelectedSkills renders the full content of whichever skills are named
// in loaded, in the order they appear in skills.
func (b *ContextBuilder) buildSelectedSkills(loaded []string, skills []Skill) string {
	if len(loaded) == 0 {
		return ""
	}
	wanted := make(map[string]bool, len(loaded))
	for _, name := range loaded {
		wanted[name] = true
	}
	var sb strings.Builder
	for _, s := range skills {
		if !wanted[s.Name] {
			continue
		}
		fmt.Fprintf(&sb, "## Skill: %s\n\n%s\n\n", s.Name, s.Content)
	}
	return sb.String()
}

// buildSystemPromptWithSkills composes the final system prompt from the base
// identity prompt and whatever skills content was selected above.
func (b *ContextBuilder) buildSystemPromptWithSkills(skillsContent string, mode PromptMode) string {
	if mode == PromptModeNone || skillsContent == "" {
		return b.basePrompt
	}
	if b.basePrompt == "" {
		return skillsContent
	}
	return b.basePrompt + "\n\n" + skillsContent
}
