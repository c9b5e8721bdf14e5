// Package synth — стадия синтеза итогового артефакта.
//
// Синтез запускается только после вердикта APPROVED. Вход — run
// с уже сгруппированными итогами (Correlated), выход — domain.Artifact.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shaiso/Ensemble/internal/domain"
)

// maxMemberText — предел текста одного участника в разделе.
const maxMemberText = 2000

// Synthesizer собирает артефакт из результатов run.
type Synthesizer interface {
	Synthesize(ctx context.Context, run *domain.OrchestrationRun) (domain.Artifact, error)
}

// SectionSynthesizer — детерминированный синтез: один раздел на сущность.
type SectionSynthesizer struct{}

// Synthesize реализует Synthesizer.
func (SectionSynthesizer) Synthesize(_ context.Context, run *domain.OrchestrationRun) (domain.Artifact, error) {
	if run == nil {
		return domain.Artifact{}, fmt.Errorf("synthesize: nil run")
	}

	artifact := domain.Artifact{
		Sections: make([]domain.Section, 0, len(run.Correlated)),
	}

	var degraded []string
	for i := range run.Correlated {
		section := buildSection(&run.Correlated[i])
		if section.Degraded {
			degraded = append(degraded, section.EntityID)
		}
		artifact.Sections = append(artifact.Sections, section)
	}

	artifact.Text = render(run.Query, artifact.Sections)
	artifact.Data = map[string]any{
		"entities": len(artifact.Sections),
	}
	if len(degraded) > 0 {
		artifact.Data["degraded"] = degraded
	}
	if run.Verdict != nil {
		artifact.Data["overall_score"] = run.Verdict.OverallScore
	}

	return artifact, nil
}

func buildSection(group *domain.CorrelatedResult) domain.Section {
	section := domain.Section{
		EntityID:  group.EntityID,
		Title:     group.EntityID,
		Agreement: group.Agreement,
	}
	if group.Singleton && len(group.Outcomes) == 1 {
		section.Title = fmt.Sprintf("%s (%s)", group.EntityID, group.Outcomes[0].Agent)
	}

	var lines []string
	for _, outcome := range group.Outcomes {
		if !outcome.Succeeded() || outcome.Fallback {
			section.Degraded = true
		}
		if !outcome.Succeeded() {
			continue
		}
		section.Sources = append(section.Sources, outcome.TaskID)

		text := memberText(outcome)
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", outcome.TaskID, text))
	}

	if len(lines) == 0 {
		lines = append(lines, "- no findings")
	}
	if section.Degraded {
		lines = append(lines, "- note: some sources failed or returned default data")
	}

	section.Body = strings.Join(lines, "\n")
	return section
}

// memberText возвращает текст ответа участника, а без него —
// summary или сам payload.
func memberText(outcome domain.TaskOutcome) string {
	text := strings.TrimSpace(outcome.Text)
	if text == "" {
		if summary, ok := outcome.Payload["summary"].(string); ok {
			text = strings.TrimSpace(summary)
		}
	}
	if text == "" && len(outcome.Payload) > 0 {
		if b, err := json.Marshal(outcome.Payload); err == nil {
			text = string(b)
		}
	}
	if len(text) > maxMemberText {
		text = text[:maxMemberText] + "..."
	}
	return text
}

func render(query string, sections []domain.Section) string {
	var b strings.Builder
	if query != "" {
		fmt.Fprintf(&b, "# %s\n", query)
	}

	sorted := make([]domain.Section, len(sections))
	copy(sorted, sections)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].EntityID < sorted[j].EntityID })

	for _, s := range sorted {
		fmt.Fprintf(&b, "\n## %s\n", s.Title)
		if s.Agreement < 1 {
			fmt.Fprintf(&b, "_agreement: %.2f_\n", s.Agreement)
		}
		b.WriteString(s.Body)
		b.WriteString("\n")
	}
	return b.String()
}
