package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ExtractedFinding is one audit finding pulled out of a free-text report.
type ExtractedFinding struct {
	Description    string `json:"description"`
	Team           string `json:"team"`
	TeamEmail      string `json:"team_email"`
	Priority       string `json:"priority"`
	ResolutionDate string `json:"resolution_date"` // YYYY-MM-DD or ""
	Source         string `json:"source"`          // report text the finding came from
}

// Client wraps the Anthropic API for finding extraction.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildPrompt constructs the system and user prompts for finding extraction.
func buildPrompt(content string, teams []string, today string) (system string, user string) {
	system = `You extract audit findings from an audit report. Return ONLY a JSON array of objects with these fields:
- "description": one or two sentences stating the control gap or finding
- "team": the team or department responsible for remediation
- "team_email": the team's email address if the report gives one, otherwise empty string
- "priority": one of "low", "medium", "high"
- "resolution_date": the agreed remediation deadline as YYYY-MM-DD, or empty string if none is stated
- "source": the exact original text of the report that describes this finding

Rules:
- Each distinct finding, exception or observation is one entry
- Material weaknesses, fraud risk, regulatory breaches and significant deficiencies are "high"; documentation or cosmetic gaps are "low"; everything else is "medium"
- Resolve relative deadlines ("within 30 days", "by end of Q2") against the report date given below
- Match team names to the known teams list when possible
- Management responses and background sections are not findings
- If the report contains no findings return []
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	if today != "" {
		sb.WriteString("Report date: ")
		sb.WriteString(today)
		sb.WriteString("\n")
	}
	if len(teams) > 0 {
		sb.WriteString("Known teams: ")
		sb.WriteString(strings.Join(teams, ", "))
		sb.WriteString("\n")
	}
	sb.WriteString("\nExtract findings from this report:\n\n")
	sb.WriteString(content)
	user = sb.String()
	return
}

// ExtractFindings sends report text to the LLM and returns structured findings.
func (c *Client) ExtractFindings(ctx context.Context, content string, teams []string, today string) ([]ExtractedFinding, error) {
	systemPrompt, userPrompt := buildPrompt(content, teams, today)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	return parseFindings(text)
}

// parseFindings decodes the model's reply, tolerating markdown fencing.
func parseFindings(text string) ([]ExtractedFinding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	text = stripFence(text)

	var findings []ExtractedFinding
	if err := json.Unmarshal([]byte(text), &findings); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}

	out := findings[:0]
	for _, f := range findings {
		f.Description = strings.TrimSpace(f.Description)
		if f.Description == "" {
			continue
		}
		f.Team = strings.TrimSpace(f.Team)
		f.TeamEmail = strings.TrimSpace(f.TeamEmail)
		f.Priority = strings.ToLower(strings.TrimSpace(f.Priority))
		f.ResolutionDate = strings.TrimSpace(f.ResolutionDate)
		out = append(out, f)
	}
	return out, nil
}

func stripFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
