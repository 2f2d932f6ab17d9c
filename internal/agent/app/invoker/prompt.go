package invoker

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentflow-go/internal/domain/agent"
	"github.com/goccy/go-json"
)

var templateToken = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ResolveTemplate replaces {{name}} with the JSON encoding of vars[name].
// Tokens naming an absent variable are left as written.
func ResolveTemplate(template string, vars map[string]interface{}) string {
	return templateToken.ReplaceAllStringFunc(template, func(match string) string {
		name := templateToken.FindStringSubmatch(match)[1]
		value, ok := vars[name]
		if !ok {
			return match
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return match
		}
		return string(encoded)
	})
}

// BuildUserPrompt appends recent conversation turns and the current context
// variables to the resolved prompt.
func BuildUserPrompt(prompt string, history []agent.ConversationEntry, vars map[string]interface{}) string {
	var b strings.Builder
	b.WriteString(prompt)

	if len(history) > 0 {
		b.WriteString("\n\nRecent conversation:\n")
		for _, entry := range history {
			fmt.Fprintf(&b, "%s: %s\n", entry.Role, entry.Content)
		}
	}

	if len(vars) > 0 {
		if encoded, err := json.MarshalIndent(vars, "", "  "); err == nil {
			b.WriteString("\n\nCurrent context:\n")
			b.Write(encoded)
		}
	}

	return b.String()
}

// BuildSystemPrompt describes the agent's persona and tool capabilities.
func BuildSystemPrompt(a *agent.Agent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", a.Name)
	if a.Description != "" {
		fmt.Fprintf(&b, ", %s", a.Description)
	}
	b.WriteString(".")

	p := a.Personality
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, "\nPersonality traits: %s.", strings.Join(p.Traits, ", "))
	}
	if p.CommunicationStyle != "" {
		fmt.Fprintf(&b, "\nCommunication style: %s.", p.CommunicationStyle)
	}
	if len(p.Expertise) > 0 {
		fmt.Fprintf(&b, "\nAreas of expertise: %s.", strings.Join(p.Expertise, ", "))
	}
	if len(a.Capabilities) > 0 {
		fmt.Fprintf(&b, "\nYou can use these tools: %s.", strings.Join(a.Capabilities, ", "))
	}

	return b.String()
}
