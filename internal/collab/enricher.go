package collab

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/livetiming-relay/internal/livetiming"
	"github.com/dgnsrekt/livetiming-relay/internal/state"
)

// Publisher emits relay-owned deltas.
type Publisher interface {
	Publish(feed string, payload any) error
}

// Enricher turns applied race control and team radio deltas into
// Translations deltas. Work is queued per collaborator; nothing here blocks
// the caller.
type Enricher struct {
	translator     Translator
	transcriber    Transcriber
	translations   *Queue
	transcriptions *Queue
	publisher      Publisher
	language       string
	logger         *zap.Logger
}

// EnricherConfig wires the collaborators. A nil Translator disables
// translation; a nil Transcriber disables team radio handling.
type EnricherConfig struct {
	Translator     Translator
	Transcriber    Transcriber
	Translations   *Queue
	Transcriptions *Queue
	Language       string
}

func NewEnricher(cfg EnricherConfig, publisher Publisher, logger *zap.Logger) *Enricher {
	if cfg.Language == "" {
		cfg.Language = "spanish"
	}
	return &Enricher{
		translator:     cfg.Translator,
		transcriber:    cfg.Transcriber,
		translations:   cfg.Translations,
		transcriptions: cfg.Transcriptions,
		publisher:      publisher,
		language:       cfg.Language,
		logger:         logger,
	}
}

// Run drains both queues until ctx is cancelled.
func (e *Enricher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range []*Queue{e.translations, e.transcriptions} {
		if q != nil {
			g.Go(func() error { return q.Run(ctx) })
		}
	}
	return g.Wait()
}

// Enrich inspects an applied batch and queues collaborator work.
func (e *Enricher) Enrich(updates []livetiming.Update, outcomes []state.Outcome) {
	for i, u := range updates {
		if i >= len(outcomes) || !outcomes[i].Applied {
			continue
		}
		switch u.Feed {
		case livetiming.FeedRaceControlMessages:
			e.raceControl(u.Payload)
		case livetiming.FeedTeamRadio:
			e.teamRadio(u.Payload)
		}
	}
}

type RaceControlTranslation struct {
	Message  string `json:"Message"`
	Language string `json:"Language"`
}

type TeamRadioTranslation struct {
	Transcript  string `json:"Transcript,omitempty"`
	Translation string `json:"Translation,omitempty"`
	Language    string `json:"Language"`
}

func (e *Enricher) raceControl(payload json.RawMessage) {
	if e.translator == nil || e.translations == nil {
		return
	}
	for _, entry := range entries(payload, "Messages") {
		text, _ := entry.fields["Message"].(string)
		if text == "" {
			continue
		}
		idx := entry.index
		err := e.translations.Submit(func(ctx context.Context) error {
			translated, err := e.translator.Translate(ctx, text, e.language)
			if err != nil {
				return err
			}
			return e.publish(map[string]any{
				livetiming.FeedRaceControlMessages: map[string]any{
					idx: RaceControlTranslation{Message: translated, Language: e.language},
				},
			})
		})
		if err != nil {
			e.logger.Debug("race control translation skipped", zap.String("index", idx), zap.Error(err))
		}
	}
}

func (e *Enricher) teamRadio(payload json.RawMessage) {
	if e.transcriber == nil || e.transcriptions == nil {
		return
	}
	for _, entry := range entries(payload, "Captures") {
		path, _ := entry.fields["Path"].(string)
		if path == "" {
			continue
		}
		idx := entry.index
		err := e.transcriptions.Submit(func(ctx context.Context) error {
			transcript, err := e.transcriber.Transcribe(ctx, path)
			if err != nil {
				return err
			}
			if transcript == "" {
				return nil
			}
			if err := e.publish(map[string]any{
				livetiming.FeedTeamRadio: map[string]any{
					idx: TeamRadioTranslation{Transcript: transcript, Language: e.language},
				},
			}); err != nil {
				return err
			}
			e.translateTranscript(idx, transcript)
			return nil
		})
		if err != nil {
			e.logger.Debug("team radio transcription skipped", zap.String("index", idx), zap.Error(err))
		}
	}
}

func (e *Enricher) translateTranscript(idx, transcript string) {
	if e.translator == nil || e.translations == nil {
		return
	}
	err := e.translations.Submit(func(ctx context.Context) error {
		translated, err := e.translator.Translate(ctx, transcript, e.language)
		if err != nil {
			return err
		}
		return e.publish(map[string]any{
			livetiming.FeedTeamRadio: map[string]any{
				idx: TeamRadioTranslation{Translation: translated, Language: e.language},
			},
		})
	})
	if err != nil {
		e.logger.Debug("team radio translation skipped", zap.String("index", idx), zap.Error(err))
	}
}

func (e *Enricher) publish(payload map[string]any) error {
	return e.publisher.Publish(livetiming.FeedTranslations, payload)
}

type entry struct {
	index  string
	fields map[string]any
}

// entries lists the items under key in a delta, which upstream sends either
// as an index-keyed object or as a full array.
func entries(payload json.RawMessage, key string) []entry {
	doc, err := livetiming.DecodeObject(payload)
	if err != nil {
		return nil
	}

	var out []entry
	switch items := doc[key].(type) {
	case map[string]any:
		keys := make([]string, 0, len(items))
		for k := range items {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return indexLess(keys[i], keys[j]) })
		for _, k := range keys {
			if fields, ok := items[k].(map[string]any); ok {
				out = append(out, entry{index: k, fields: fields})
			}
		}
	case []any:
		for i, item := range items {
			if fields, ok := item.(map[string]any); ok {
				out = append(out, entry{index: strconv.Itoa(i), fields: fields})
			}
		}
	}
	return out
}

func indexLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
