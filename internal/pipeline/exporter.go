package pipeline

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/slidesmith/pptx-pipeline/internal/export"
	"github.com/slidesmith/pptx-pipeline/internal/jobs"
	"github.com/slidesmith/pptx-pipeline/internal/storage"
	"github.com/slidesmith/pptx-pipeline/internal/types"
)

const exportContentType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"

// Exporter rebuilds a translated deck for a processed session.
type Exporter struct {
	store storage.Gateway
	log   zerolog.Logger
}

// NewExporter wires the export handler.
func NewExporter(store storage.Gateway, log zerolog.Logger) *Exporter {
	return &Exporter{
		store: store,
		log:   log.With().Str("component", "exporter").Logger(),
	}
}

// Handle is the jobs.Handler for export jobs. Translations are read from
// the session's translations key; a session that was never translated
// exports the original text verbatim.
func (e *Exporter) Handle(ctx context.Context, job *jobs.Job, report func(int, string)) (string, error) {
	report(10, "loading_session")
	documentID := job.DocumentID
	if documentID == "" {
		manifest, err := e.loadManifest(ctx, job.SessionID)
		if err != nil {
			return "", err
		}
		documentID = manifest.DocumentID
	}

	report(25, "loading_translations")
	translations, err := e.loadTranslations(ctx, job.SessionID)
	if err != nil {
		return "", err
	}

	archive, err := e.store.Get(ctx, storage.SourceKey(documentID))
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return "", jobs.Fail(jobs.ReasonInput, "source document no longer stored", err)
		}
		return "", jobs.Fail(jobs.ReasonStorage, "load source document", err)
	}

	report(50, "rebuilding_deck")
	out, err := export.Reconstruct(archive, translations)
	if err != nil {
		return "", jobs.Fail(jobs.ReasonInput, "reconstruct deck", err)
	}

	report(90, "storing_export")
	key := storage.ExportKey(job.SessionID, job.ID)
	if err := e.store.Put(ctx, key, out, exportContentType); err != nil {
		return "", jobs.Fail(jobs.ReasonStorage, "store export", err)
	}

	e.log.Info().
		Str("job_id", job.ID).
		Str("session_id", job.SessionID).
		Int("translations", len(translations)).
		Msg("deck exported")
	return key, nil
}

func (e *Exporter) loadManifest(ctx context.Context, sessionID string) (*SessionManifest, error) {
	data, err := e.store.Get(ctx, storage.SessionKey(sessionID))
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, jobs.Fail(jobs.ReasonInput, "session has no processed document", err)
		}
		return nil, jobs.Fail(jobs.ReasonStorage, "load session manifest", err)
	}
	var manifest SessionManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, jobs.Fail(jobs.ReasonInternal, "decode session manifest", err)
	}
	if manifest.DocumentID == "" {
		return nil, jobs.Fail(jobs.ReasonInput, "session manifest has no document", nil)
	}
	return &manifest, nil
}

func (e *Exporter) loadTranslations(ctx context.Context, sessionID string) (types.Translations, error) {
	data, err := e.store.Get(ctx, storage.TranslationsKey(sessionID))
	if errors.Is(err, storage.ErrNotExist) {
		return types.Translations{}, nil
	}
	if err != nil {
		return nil, jobs.Fail(jobs.ReasonStorage, "load translations", err)
	}
	var translations types.Translations
	if err := json.Unmarshal(data, &translations); err != nil {
		return nil, jobs.Fail(jobs.ReasonInput, "decode translations", err)
	}
	return translations, nil
}
