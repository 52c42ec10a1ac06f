// Package feedback turns a finished simulation into the coaching report shown
// to the trainee, and records report metadata for later review.
//
// [Generator.Generate] never fails: every problem degrades to one of the
// fixed French messages below, so the caller always has something to show.
package feedback

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/advisorsim/internal/observe"
	"github.com/MrWong99/advisorsim/pkg/provider/llm"
	"github.com/MrWong99/advisorsim/pkg/types"
)

// Fixed messages returned in place of a generated report.
const (
	MsgMissingKey = "Erreur: Clé API manquante pour le rapport."
	MsgFailed     = "Erreur lors de la génération du feedback. (Vérifiez votre connexion ou clé API)"
)

// transcriptHeader separates the report template from the transcript.
const transcriptHeader = "Voici la transcription de l'entretien :"

// Transcript line prefixes.
const (
	prefixAdvisor = "ADVISOR"
	prefixClient  = "CLIENT"
)

// MinTurns is the smallest history for which a report is generated.
const MinTurns = 2

// DefaultTemplate is the built-in report instruction.
const DefaultTemplate = `Tu es Ia.FA, l'assistant de formation robotique de la BPCE.
Ta mission : Analyser la conversation précédente entre un conseiller (l'utilisateur) et un client simulé.

Génère un rapport structuré en Markdown strictement selon le format ci-dessous :

## 📊 Synthèse Globale
[Un résumé court de 2 phrases sur la performance générale]

## 🟢 Ce que vous avez réussi (Points Forts)
* [Point 1]
* [Point 2]
* [Point 3]

## 🔴 Ce qu'il faut améliorer (Points de Vigilance)
* [Point 1]
* [Point 2]
* [Point 3]

## 💡 Le conseil de Ia.FA
[Un conseil actionnable et bienveillant pour la prochaine fois]

## 🏆 Note Finale : [Note]/5

Ton ton doit être pédagogique, encourageant, mais précis. N'hésite pas à faire des blagues de robot.`

// Generator produces coaching reports with a one-shot completion.
type Generator struct {
	llm      llm.Provider
	template string
	log      *slog.Logger
	metrics  *observe.Metrics
	timeout  time.Duration
}

// Option is a functional option for [Generator].
type Option func(*Generator)

// WithTemplate replaces [DefaultTemplate]. Empty values are ignored.
func WithTemplate(tpl string) Option {
	return func(g *Generator) {
		if strings.TrimSpace(tpl) != "" {
			g.template = tpl
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.log = l }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithTimeout bounds a single generation. Zero means no bound beyond the
// caller's context.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// NewGenerator returns a Generator backed by provider. A nil provider is
// allowed and makes every report the missing-key message.
func NewGenerator(provider llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		llm:      provider,
		template: DefaultTemplate,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// Generate returns the report for history.
//
// Histories shorter than [MinTurns] get [TooShortReport] without any remote
// call. Otherwise the generated text is returned verbatim; a missing
// credential yields [MsgMissingKey] and any other failure [MsgFailed].
func (g *Generator) Generate(ctx context.Context, history []types.ChatTurn) string {
	if g.llm == nil {
		return MsgMissingKey
	}
	if len(history) < MinTurns {
		return TooShortReport()
	}

	ctx, span := observe.StartSpan(ctx, "feedback.generate")
	defer span.End()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: g.Prompt(history)}},
	})
	g.metrics.ReportDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.RecordError(span, err)
		g.metrics.RecordProviderError(ctx, "llm", "report")
		if errors.Is(err, types.ErrConfiguration) {
			g.log.Error("report generation: missing credential", "err", err)
			return MsgMissingKey
		}
		g.log.Error("report generation failed", "err", err)
		return MsgFailed
	}
	g.metrics.RecordProviderRequest(ctx, "llm", "report", "ok")
	return resp.Content
}

// Prompt renders the full generation prompt for history: the template, the
// transcript header and one line per turn.
func (g *Generator) Prompt(history []types.ChatTurn) string {
	var b strings.Builder
	b.WriteString(g.template)
	b.WriteString("\n\n")
	b.WriteString(transcriptHeader)
	b.WriteString("\n")
	b.WriteString(RenderTranscript(history))
	return b.String()
}

// RenderTranscript formats history as "ADVISOR: ..." and "CLIENT: ..." lines
// in original order. Only trainee turns are ADVISOR lines.
func RenderTranscript(history []types.ChatTurn) string {
	lines := make([]string, len(history))
	for i, t := range history {
		prefix := prefixClient
		if t.Sender == types.SenderUser {
			prefix = prefixAdvisor
		}
		lines[i] = prefix + ": " + t.Text
	}
	return strings.Join(lines, "\n")
}
