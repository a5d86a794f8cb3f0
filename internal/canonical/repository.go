package canonical

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekwalla/valor/internal/contracts"
)

// ObservationRepository reads raw observations from refdata.observations.
type ObservationRepository struct {
	db *pgxpool.Pool
}

func NewObservationRepository(db *pgxpool.Pool) *ObservationRepository {
	return &ObservationRepository{db: db}
}

func (r *ObservationRepository) ListObservations(ctx context.Context, org contracts.OrgID, dataType contracts.DataType, entityKey string, date time.Time) ([]contracts.Observation, error) {
	query := `
		SELECT id, org_id, data_type, entity_key, obs_date, source_code, value, revision, observed_at
		FROM refdata.observations
		WHERE org_id = $1 AND data_type = $2 AND entity_key = $3 AND obs_date = $4
		ORDER BY source_code, revision
	`

	rows, err := r.db.Query(ctx, query, org, dataType, entityKey, date)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	observations := make([]contracts.Observation, 0)
	for rows.Next() {
		var obs contracts.Observation
		err := rows.Scan(
			&obs.ID,
			&obs.OrgID,
			&obs.DataType,
			&obs.EntityKey,
			&obs.Date,
			&obs.SourceCode,
			&obs.Value,
			&obs.Revision,
			&obs.ObservedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}

	return observations, nil
}

func (r *ObservationRepository) ListEntityKeys(ctx context.Context, org contracts.OrgID, dataType contracts.DataType, date time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT entity_key
		FROM refdata.observations
		WHERE org_id = $1 AND data_type = $2 AND obs_date = $3
		ORDER BY entity_key
	`

	rows, err := r.db.Query(ctx, query, org, dataType, date)
	if err != nil {
		return nil, fmt.Errorf("query entity keys: %w", err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan entity key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity keys: %w", err)
	}

	return keys, nil
}

// SourceRepository reads the source registry and priority overrides.
type SourceRepository struct {
	db *pgxpool.Pool
}

func NewSourceRepository(db *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{db: db}
}

func (r *SourceRepository) ActiveSources(ctx context.Context, dataType contracts.DataType) ([]contracts.Source, error) {
	query := `
		SELECT code, name, priority, data_types, is_active, is_official
		FROM refdata.sources
		WHERE is_active = TRUE AND $1 = ANY(data_types)
		ORDER BY priority, code
	`

	rows, err := r.db.Query(ctx, query, dataType)
	if err != nil {
		return nil, fmt.Errorf("query active sources: %w", err)
	}
	defer rows.Close()

	sources := make([]contracts.Source, 0)
	for rows.Next() {
		var src contracts.Source
		var dataTypes []string
		err := rows.Scan(&src.Code, &src.Name, &src.Priority, &dataTypes, &src.IsActive, &src.IsOfficial)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.DataTypes = make([]contracts.DataType, 0, len(dataTypes))
		for _, dt := range dataTypes {
			src.DataTypes = append(src.DataTypes, contracts.DataType(dt))
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}

	return sources, nil
}

func (r *SourceRepository) OrgOverrides(ctx context.Context, org contracts.OrgID, dataType contracts.DataType) (map[string]int, error) {
	query := `
		SELECT source_code, priority
		FROM refdata.source_priorities
		WHERE org_id = $1 AND data_type = $2
	`

	rows, err := r.db.Query(ctx, query, org, dataType)
	if err != nil {
		return nil, fmt.Errorf("query source priorities: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]int)
	for rows.Next() {
		var code string
		var priority int
		if err := rows.Scan(&code, &priority); err != nil {
			return nil, fmt.Errorf("scan source priority: %w", err)
		}
		overrides[code] = priority
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source priorities: %w", err)
	}

	return overrides, nil
}

// CanonicalRepository persists canonical records.
type CanonicalRepository struct {
	db *pgxpool.Pool
}

func NewCanonicalRepository(db *pgxpool.Pool) *CanonicalRepository {
	return &CanonicalRepository{db: db}
}

func (r *CanonicalRepository) Get(ctx context.Context, org contracts.OrgID, dataType contracts.DataType, entityKey string, date time.Time) (*contracts.CanonicalRecord, error) {
	query := `
		SELECT org_id, data_type, entity_key, obs_date, value, chosen_source,
		       observation_id, selection_reason, selected_at,
		       is_official_source, publication_date_assumed
		FROM refdata.canonical_records
		WHERE org_id = $1 AND data_type = $2 AND entity_key = $3 AND obs_date = $4
	`

	rec := &contracts.CanonicalRecord{}
	err := r.db.QueryRow(ctx, query, org, dataType, entityKey, date).Scan(
		&rec.OrgID,
		&rec.DataType,
		&rec.EntityKey,
		&rec.Date,
		&rec.Value,
		&rec.ChosenSource,
		&rec.ObservationID,
		&rec.SelectionReason,
		&rec.SelectedAt,
		&rec.IsOfficialSource,
		&rec.PublicationDateAssumed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query canonical record: %w", err)
	}

	return rec, nil
}

func (r *CanonicalRepository) Upsert(ctx context.Context, rec *contracts.CanonicalRecord) error {
	query := `
		INSERT INTO refdata.canonical_records (
			org_id, data_type, entity_key, obs_date, value, chosen_source,
			observation_id, selection_reason, selected_at,
			is_official_source, publication_date_assumed
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (org_id, data_type, entity_key, obs_date) DO UPDATE SET
			value = EXCLUDED.value,
			chosen_source = EXCLUDED.chosen_source,
			observation_id = EXCLUDED.observation_id,
			selection_reason = EXCLUDED.selection_reason,
			selected_at = EXCLUDED.selected_at,
			is_official_source = EXCLUDED.is_official_source,
			publication_date_assumed = EXCLUDED.publication_date_assumed
	`

	_, err := r.db.Exec(ctx, query,
		rec.OrgID,
		rec.DataType,
		rec.EntityKey,
		rec.Date,
		rec.Value,
		rec.ChosenSource,
		rec.ObservationID,
		rec.SelectionReason,
		rec.SelectedAt,
		rec.IsOfficialSource,
		rec.PublicationDateAssumed,
	)
	if err != nil {
		return fmt.Errorf("upsert canonical record: %w", err)
	}

	return nil
}
