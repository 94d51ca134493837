package llm

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"genflow/internal/domain"
	"genflow/internal/domain/jsoncfg"
	"genflow/internal/providers"
)

const staticProviderName = "static"

// Static derives analysis and prompts from the inputs alone. It backs the
// chat client when no model is reachable.
type Static struct{}

func NewStatic() *Static {
	return &Static{}
}

func (s *Static) Analyze(ctx context.Context, req providers.AnalyzeRequest) (jsoncfg.Analysis, error) {
	in := req.Inputs
	subject := coalesce(in.Brief, in.CharacterDescription, "product showcase")
	analysis := jsoncfg.Analysis{
		Summary:  titleCase(in.Locale, firstSentence(subject)),
		Audience: "social media viewers",
		Style:    "clean commercial",
	}
	if req.Kind == domain.WorkflowKindCompetitorReplica && in.CompetitorVideoURL != "" {
		analysis.Style = "match the pacing and framing of the reference video"
		analysis.Highlights = append(analysis.Highlights, "reference: "+in.CompetitorVideoURL)
	}
	if n := len(in.ImageURLs); n > 0 {
		analysis.Highlights = append(analysis.Highlights, fmt.Sprintf("%d source image(s)", n))
	}
	return analysis, nil
}

func (s *Static) Draft(ctx context.Context, req providers.DraftRequest) (jsoncfg.Prompts, error) {
	in := req.Inputs
	subject := coalesce(in.CharacterDescription, in.Brief)
	if req.Analysis != nil {
		subject = coalesce(subject, req.Analysis.Summary)
	}
	subject = coalesce(subject, "the product")
	style := "clean commercial"
	if req.Analysis != nil && req.Analysis.Style != "" {
		style = req.Analysis.Style
	}
	label := titleCase(in.Locale, subject)
	return jsoncfg.Prompts{
		CoverPrompt:    fmt.Sprintf("%s, %s style, studio lighting, %s framing", label, style, req.Config.AspectRatio),
		VideoPrompt:    fmt.Sprintf("%s comes to life with a slow camera push-in, %s style, %d seconds", label, style, req.Config.DurationSeconds),
		NegativePrompt: "blurry, distorted text, watermark",
	}, nil
}

func titleCase(locale, s string) string {
	tag := language.Und
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			tag = parsed
		}
	}
	return cases.Title(tag).String(strings.TrimSpace(s))
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, ".!?\n"); idx > 0 {
		return s[:idx]
	}
	return s
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

var (
	_ providers.Analyzer      = (*Static)(nil)
	_ providers.PromptDrafter = (*Static)(nil)
)
