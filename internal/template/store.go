// Package template implements the per-label template store (§4.3), the
// similarity matcher (§4.4), and the pattern learner (§4.5).
package template

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/adverant/pdfextract/internal/errors"
	"github.com/adverant/pdfextract/internal/logging"
	"github.com/adverant/pdfextract/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS templates (
	id TEXT NOT NULL,
	label TEXT NOT NULL,
	sample_count INTEGER NOT NULL,
	structural_signature TEXT NOT NULL,
	field_patterns TEXT NOT NULL,
	field_confidence TEXT NOT NULL,
	training_tokens TEXT NOT NULL DEFAULT '[]',
	training_text TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (label, id)
);
CREATE INDEX IF NOT EXISTS idx_templates_label ON templates(label);
`

// Store is a durable mapping label → list<Template>, backed by
// modernc.org/sqlite. Writes are serialised per label; reads take no lock
// and always observe a complete (never torn) row.
type Store struct {
	db  *sql.DB
	log *logging.Logger

	mu          sync.Mutex // guards writeLocks map only
	writeLocks  map[string]*sync.Mutex
	perLabelCap int
}

// Open creates or attaches to a template database at path.
func Open(path string, perLabelCap int, log *logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open template db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create template schema: %w", err)
	}

	if perLabelCap <= 0 {
		perLabelCap = 16
	}

	return &Store{
		db:          db,
		log:         log,
		writeLocks:  make(map[string]*sync.Mutex),
		perLabelCap: perLabelCap,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// lockFor returns the per-label write mutex, creating it on first use.
func (s *Store) lockFor(label string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.writeLocks[label]
	if !ok {
		m = &sync.Mutex{}
		s.writeLocks[label] = m
	}
	return m
}

// List returns every template for label, ordered by sample_count
// descending then updated_at descending.
func (s *Store) List(ctx context.Context, label string) ([]*model.Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sample_count, structural_signature, field_patterns, field_confidence, training_tokens, training_text, created_at, updated_at
		FROM templates WHERE label = ? ORDER BY sample_count DESC, updated_at DESC
	`, label)
	if err != nil {
		return nil, errors.NewPersistenceError("", "template list", err)
	}
	defer rows.Close()

	var out []*model.Template
	for rows.Next() {
		t, err := scanTemplate(rows, label)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTemplate(row scanner, label string) (*model.Template, error) {
	var (
		id, sigJSON, patternsJSON, confJSON, tokensJSON, trainingText string
		sampleCount                                                   int
		createdAt, updatedAt                                          int64
	)
	if err := row.Scan(&id, &sampleCount, &sigJSON, &patternsJSON, &confJSON, &tokensJSON, &trainingText, &createdAt, &updatedAt); err != nil {
		return nil, errors.NewPersistenceError("", "template scan", err)
	}

	var sig []string
	if err := json.Unmarshal([]byte(sigJSON), &sig); err != nil {
		return nil, errors.NewInternalError("", "decode structural_signature", err)
	}
	var patterns map[string]model.Pattern
	if err := json.Unmarshal([]byte(patternsJSON), &patterns); err != nil {
		return nil, errors.NewInternalError("", "decode field_patterns", err)
	}
	var conf map[string]float64
	if err := json.Unmarshal([]byte(confJSON), &conf); err != nil {
		return nil, errors.NewInternalError("", "decode field_confidence", err)
	}
	var tokens []string
	if tokensJSON != "" {
		if err := json.Unmarshal([]byte(tokensJSON), &tokens); err != nil {
			return nil, errors.NewInternalError("", "decode training_tokens", err)
		}
	}

	sigSet := make(map[string]struct{}, len(sig))
	for _, s := range sig {
		sigSet[s] = struct{}{}
	}
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}

	return &model.Template{
		ID:                  id,
		Label:               label,
		SampleCount:         sampleCount,
		StructuralSignature: sigSet,
		FieldPatterns:       patterns,
		FieldConfidence:     conf,
		TrainingTokens:      tokenSet,
		TrainingText:        trainingText,
		CreatedAt:           time.Unix(createdAt, 0),
		UpdatedAt:           time.Unix(updatedAt, 0),
	}, nil
}

// Get fetches a single template by (label, id).
func (s *Store) Get(ctx context.Context, label, id string) (*model.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sample_count, structural_signature, field_patterns, field_confidence, training_tokens, training_text, created_at, updated_at
		FROM templates WHERE label = ? AND id = ?
	`, label, id)
	t, err := scanTemplate(row, label)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// Upsert atomically appends or replaces a template by (label, id), then
// enforces the per-label entry cap by evicting the lowest-confidence,
// lowest-sample-count template if the cap is exceeded (§5 quotas).
// Callers must hold the per-label write lock (see WithLabelLock).
func (s *Store) Upsert(ctx context.Context, t *model.Template) error {
	sig := make([]string, 0, len(t.StructuralSignature))
	for k := range t.StructuralSignature {
		sig = append(sig, k)
	}
	sort.Strings(sig)

	sigJSON, err := json.Marshal(sig)
	if err != nil {
		return errors.NewInternalError("", "encode structural_signature", err)
	}
	patternsJSON, err := json.Marshal(t.FieldPatterns)
	if err != nil {
		return errors.NewInternalError("", "encode field_patterns", err)
	}
	confJSON, err := json.Marshal(t.FieldConfidence)
	if err != nil {
		return errors.NewInternalError("", "encode field_confidence", err)
	}

	tokens := make([]string, 0, len(t.TrainingTokens))
	for k := range t.TrainingTokens {
		tokens = append(tokens, k)
	}
	sort.Strings(tokens)
	tokensJSON, err := json.Marshal(tokens)
	if err != nil {
		return errors.NewInternalError("", "encode training_tokens", err)
	}

	t.UpdatedAt = time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = t.UpdatedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (id, label, sample_count, structural_signature, field_patterns, field_confidence, training_tokens, training_text, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(label, id) DO UPDATE SET
			sample_count = excluded.sample_count,
			structural_signature = excluded.structural_signature,
			field_patterns = excluded.field_patterns,
			field_confidence = excluded.field_confidence,
			training_tokens = excluded.training_tokens,
			training_text = excluded.training_text,
			updated_at = excluded.updated_at
	`, t.ID, t.Label, t.SampleCount, string(sigJSON), string(patternsJSON), string(confJSON), string(tokensJSON), t.TrainingText, t.CreatedAt.Unix(), t.UpdatedAt.Unix())
	if err != nil {
		return errors.NewPersistenceError("", "template upsert", err)
	}

	return s.evictOverCap(ctx, t.Label)
}

func (s *Store) evictOverCap(ctx context.Context, label string) error {
	templates, err := s.List(ctx, label)
	if err != nil {
		return err
	}
	if len(templates) <= s.perLabelCap {
		return nil
	}

	sort.Slice(templates, func(i, j int) bool {
		ci, cj := avgConfidence(templates[i]), avgConfidence(templates[j])
		if ci != cj {
			return ci < cj
		}
		return templates[i].SampleCount < templates[j].SampleCount
	})

	victim := templates[0]
	s.log.Info("template store over per-label cap, evicting", "label", label, "template_id", victim.ID)
	return s.Delete(ctx, label, victim.ID)
}

func avgConfidence(t *model.Template) float64 {
	if len(t.FieldConfidence) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range t.FieldConfidence {
		sum += c
	}
	return sum / float64(len(t.FieldConfidence))
}

// Delete removes a template by (label, id).
func (s *Store) Delete(ctx context.Context, label, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE label = ? AND id = ?`, label, id)
	if err != nil {
		return errors.NewPersistenceError("", "template delete", err)
	}
	return nil
}

// CountPerLabel returns the number of stored templates for every label.
func (s *Store) CountPerLabel(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label, COUNT(*) FROM templates GROUP BY label`)
	if err != nil {
		return nil, errors.NewPersistenceError("", "template count_per_label", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var label string
		var count int
		if err := rows.Scan(&label, &count); err != nil {
			return nil, errors.NewPersistenceError("", "template count_per_label scan", err)
		}
		out[label] = count
	}
	return out, nil
}

// WithLabelLock runs fn while holding the write mutex for label, giving the
// orchestrator's learning step the serialisation §4.7/§5 require: at most
// one in-flight learning write per label.
func (s *Store) WithLabelLock(label string, fn func() error) error {
	lock := s.lockFor(label)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}
