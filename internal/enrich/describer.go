package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/jusbridge/casesync/pkg/anthropic"
)

const describerSystemPrompt = `You merge Brazilian legal case timeline descriptions.
Given several descriptions of the same event recorded by different sources,
write one concise factual sentence in Portuguese combining them.
Do not invent details. Answer with the sentence only.`

// Describer merges same-day, same-type timeline descriptions from different
// sources into one audited sentence. A nil *Describer disables the feature;
// the reconciler is fully functional without it.
type Describer struct {
	client anthropic.Client
	model  string
}

// NewDescriber builds a Describer, or nil when no API key is configured.
func NewDescriber(apiKey, model string) *Describer {
	if apiKey == "" {
		return nil
	}
	return &Describer{client: anthropic.NewClient(apiKey), model: model}
}

// NewDescriberWithClient injects a client, for tests.
func NewDescriberWithClient(client anthropic.Client, model string) *Describer {
	return &Describer{client: client, model: model}
}

// Model reports the model name stamped on enriched entries.
func (d *Describer) Model() string {
	return d.model
}

// MergeDescriptions produces a single description from the per-source texts.
func (d *Describer) MergeDescriptions(ctx context.Context, eventType, day string, descriptions []string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Event type: %s\nDate: %s\n\n", eventType, day)
	for i, desc := range descriptions {
		fmt.Fprintf(&sb, "Source %d: %s\n", i+1, desc)
	}

	resp, err := d.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     d.model,
		MaxTokens: 300,
		System:    []anthropic.SystemBlock{{Text: describerSystemPrompt}},
		Messages:  []anthropic.Message{{Role: "user", Content: sb.String()}},
	})
	if err != nil {
		return "", eris.Wrap(err, "enrich: describe timeline entry")
	}
	resp.Usage.LogCost(d.model, "timeline_describe")

	for _, block := range resp.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", eris.New("enrich: empty describer response")
}
