// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package enrich

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/pdiddy/lumi-engine/pkg/types"
)

// annotatePrompt asks for the fixed annotation schema. The topic list is
// rendered from the controlled vocabulary so the two cannot drift.
var annotatePrompt = template.Must(template.New("annotate").Funcs(template.FuncMap{
	"topics": func() string { return strings.Join(types.Topics, ", ") },
}).Parse(`You are a news editor for Lumi, an app that makes news easy and engaging.
Given the article below, return a JSON object with these exact fields:

{
  "summary": "2 sentences max. Plain language. What happened and why it matters.",
  "simplifiedBody": "A 60-second read version. 150-200 words. Conversational tone. No jargon. Use short paragraphs.",
  "deepDive": "100-150 words of background context. Why does this situation exist? What history led to this?",
  "whyItMatters": "One sentence. Complete this: 'This matters because...'",
  "rabbitHole": "Ask one thought-provoking follow-up question, then answer it in 80 words.",
  "topicTags": ["one or more topic slugs from: {{topics}}"],
  "entities": ["people", "organisations", "and places mentioned"],
  "weightScore": 0.0
}

weightScore rules: 0.9-1.0 = breaking/major national or global story. 0.6-0.8 = significant story. 0.3-0.5 = general interest. 0.1-0.2 = minor/niche.

Article Title: {{.Title}}
Article Content: {{.Content}}

Return ONLY the JSON object. No markdown, no explanation.
`))

var toneInstructions = map[types.Tone]string{
	types.ToneFormal:         "Rewrite this in a formal, professional journalistic tone.",
	types.ToneConversational: "Rewrite this in a clear, conversational tone suitable for a general audience.",
	types.ToneLikeAFriend:    "Rewrite this as if you're a knowledgeable friend texting another friend about what happened. Casual, warm, no jargon. Use contractions.",
}

var rewritePrompt = template.Must(template.New("rewrite").Parse(`{{.Instruction}}
Keep all facts intact. Do not add or remove information.
Return only the rewritten text.
Article: {{.Content}}
`))

const relevancePrefix = "For you, this matters because"

var relevancePrompt = template.Must(template.New("relevance").Parse(`Given this news summary and the user's interest topics, write ONE sentence explaining
why this story is personally relevant to someone interested in: {{.Topics}}.
Start with "For you, this matters because..."

Summary: {{.Summary}}
Return only the sentence.
`))

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
