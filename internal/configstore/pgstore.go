package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/composer/internal/observability"
	"github.com/pitabwire/composer/model"
)

// Schema creates the table used by PgStore.
const Schema = `
CREATE TABLE IF NOT EXISTS instance_configs (
	config_id      BIGSERIAL PRIMARY KEY,
	instance_id    TEXT        NOT NULL,
	application_id BIGINT      NOT NULL,
	sequence       INTEGER     NOT NULL,
	stage_id       BIGINT      NOT NULL,
	stage_name     TEXT        NOT NULL DEFAULT '',
	substage_id    BIGINT      NOT NULL,
	substage_name  TEXT        NOT NULL DEFAULT '',
	active         CHAR(1)     NOT NULL DEFAULT 'N',
	auto           CHAR(1)     NOT NULL DEFAULT 'N',
	adhoc          CHAR(1)     NOT NULL DEFAULT 'N',
	approval       CHAR(1)     NOT NULL DEFAULT 'N',
	attest         CHAR(1)     NOT NULL DEFAULT 'N',
	upload         CHAR(1)     NOT NULL DEFAULT 'N',
	alteryx        CHAR(1)     NOT NULL DEFAULT 'N',
	parameters     JSONB       NOT NULL DEFAULT '[]',
	attestations   JSONB       NOT NULL DEFAULT '[]',
	file_rules     JSONB       NOT NULL DEFAULT '[]',
	dependencies   JSONB       NOT NULL DEFAULT '[]',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS instance_configs_instance_idx
	ON instance_configs (instance_id, application_id, sequence);
`

const selectRecords = `
	SELECT config_id, instance_id, application_id, sequence,
	       stage_id, stage_name, substage_id, substage_name,
	       active, auto, adhoc, approval, attest, upload, alteryx,
	       parameters, attestations, file_rules, dependencies
	FROM instance_configs
	WHERE instance_id = $1 AND application_id = $2
	ORDER BY sequence ASC, config_id ASC`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool

	schemaOnce sync.Once
	schemaErr  error
}

// NewPgStore creates a new PostgreSQL configuration store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureSchema creates the table and index if they do not exist. It runs
// at most once per store.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		if _, err := s.pool.Exec(ctx, Schema); err != nil {
			s.schemaErr = fmt.Errorf("create schema: %w", err)
		}
	})
	return s.schemaErr
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetInstanceConfig returns the saved records of an instance.
func (s *PgStore) GetInstanceConfig(ctx context.Context, instanceID string, appID int64) (records []model.PersistedRecord, err error) {
	ctx, span := observability.StartSpan(ctx, "configstore.get",
		observability.AttrStoreDriver.String("postgres"),
		observability.AttrInstanceID.String(instanceID),
		observability.AttrApplicationID.Int64(appID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	return queryRecords(ctx, s.pool, instanceID, appID)
}

// SaveOrUpdateConfig replaces the configuration of an instance in a single
// transaction.
func (s *PgStore) SaveOrUpdateConfig(ctx context.Context, instanceID string, appID int64, payload []model.SavePayload) (records []model.PersistedRecord, err error) {
	ctx, span := observability.StartSpan(ctx, "configstore.save",
		observability.AttrStoreDriver.String("postgres"),
		observability.AttrInstanceID.String(instanceID),
		observability.AttrRecordCount.Int(len(payload)),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	return s.save(ctx, instanceID, appID, payload)
}

func (s *PgStore) save(ctx context.Context, instanceID string, appID int64, payload []model.SavePayload) ([]model.PersistedRecord, error) {
	if err := validatePayload(instanceID, appID, payload); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := lockExisting(ctx, tx, instanceID, appID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(payload))
	for i, p := range payload {
		id, err := upsertRecord(ctx, tx, instanceID, appID, p, existing)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM instance_configs
		WHERE instance_id = $1 AND application_id = $2
		AND NOT (config_id = ANY($3))`,
		instanceID, appID, ids,
	); err != nil {
		return nil, fmt.Errorf("delete removed records: %w", err)
	}

	deps := resolveDependencies(payload, ids)
	for i, d := range deps {
		if d == nil {
			d = []model.DependencyDescriptor{}
		}
		depsJSON, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("marshal dependencies: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE instance_configs SET dependencies = $1 WHERE config_id = $2`,
			depsJSON, ids[i],
		); err != nil {
			return nil, fmt.Errorf("update dependencies: %w", err)
		}
	}

	records, err := queryRecords(ctx, tx, instanceID, appID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit save: %w", err)
	}
	return records, nil
}

// lockExisting returns the config ids of the instance, locking their rows.
func lockExisting(ctx context.Context, tx pgx.Tx, instanceID string, appID int64) (map[int64]bool, error) {
	rows, err := tx.Query(ctx, `
		SELECT config_id FROM instance_configs
		WHERE instance_id = $1 AND application_id = $2
		FOR UPDATE`,
		instanceID, appID,
	)
	if err != nil {
		return nil, fmt.Errorf("lock instance configs: %w", err)
	}
	defer rows.Close()

	existing := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan config id: %w", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// upsertRecord writes one payload entry without its dependencies and
// returns its config id.
func upsertRecord(ctx context.Context, tx pgx.Tx, instanceID string, appID int64, p model.SavePayload, existing map[int64]bool) (int64, error) {
	rec := recordFromPayload(instanceID, appID, p.ConfigID, p, nil)
	paramsJSON, attJSON, rulesJSON, err := marshalCollections(rec)
	if err != nil {
		return 0, err
	}

	if p.Operation == model.OperationUpdate && existing[p.ConfigID] {
		_, err := tx.Exec(ctx, `
			UPDATE instance_configs SET
				sequence = $1, stage_id = $2, stage_name = $3,
				substage_id = $4, substage_name = $5,
				active = $6, auto = $7, adhoc = $8, approval = $9,
				attest = $10, upload = $11, alteryx = $12,
				parameters = $13, attestations = $14, file_rules = $15,
				updated_at = now()
			WHERE config_id = $16`,
			rec.Sequence, rec.StageID, rec.StageName,
			rec.SubstageID, rec.SubstageName,
			rec.Active, rec.Auto, rec.Adhoc, rec.Approval,
			rec.Attest, rec.Upload, rec.Alteryx,
			paramsJSON, attJSON, rulesJSON,
			p.ConfigID,
		)
		if err != nil {
			return 0, fmt.Errorf("update config %d: %w", p.ConfigID, err)
		}
		return p.ConfigID, nil
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO instance_configs (
			instance_id, application_id, sequence,
			stage_id, stage_name, substage_id, substage_name,
			active, auto, adhoc, approval, attest, upload, alteryx,
			parameters, attestations, file_rules
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17
		) RETURNING config_id`,
		instanceID, appID, rec.Sequence,
		rec.StageID, rec.StageName, rec.SubstageID, rec.SubstageName,
		rec.Active, rec.Auto, rec.Adhoc, rec.Approval, rec.Attest, rec.Upload, rec.Alteryx,
		paramsJSON, attJSON, rulesJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert config: %w", err)
	}
	return id, nil
}

func marshalCollections(rec model.PersistedRecord) (params, attestations, rules []byte, err error) {
	if rec.Parameters == nil {
		rec.Parameters = []model.ParameterValue{}
	}
	if rec.Attestations == nil {
		rec.Attestations = []int64{}
	}
	if rec.FileRules == nil {
		rec.FileRules = []model.FileRulePayload{}
	}
	if params, err = json.Marshal(rec.Parameters); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal parameters: %w", err)
	}
	if attestations, err = json.Marshal(rec.Attestations); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal attestations: %w", err)
	}
	if rules, err = json.Marshal(rec.FileRules); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal file rules: %w", err)
	}
	return params, attestations, rules, nil
}

// queryRecords loads the records of an instance ordered by sequence.
func queryRecords(ctx context.Context, q querier, instanceID string, appID int64) ([]model.PersistedRecord, error) {
	rows, err := q.Query(ctx, selectRecords, instanceID, appID)
	if err != nil {
		return nil, fmt.Errorf("query instance configs: %w", err)
	}
	defer rows.Close()

	records := []model.PersistedRecord{}
	for rows.Next() {
		var r model.PersistedRecord
		var paramsJSON, attJSON, rulesJSON, depsJSON []byte
		if err := rows.Scan(
			&r.ConfigID, &r.InstanceID, &r.ApplicationID, &r.Sequence,
			&r.StageID, &r.StageName, &r.SubstageID, &r.SubstageName,
			&r.Active, &r.Auto, &r.Adhoc, &r.Approval, &r.Attest, &r.Upload, &r.Alteryx,
			&paramsJSON, &attJSON, &rulesJSON, &depsJSON,
		); err != nil {
			return nil, fmt.Errorf("scan instance config: %w", err)
		}
		if err := unmarshalCollections(&r, paramsJSON, attJSON, rulesJSON, depsJSON); err != nil {
			return nil, fmt.Errorf("config %d: %w", r.ConfigID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func unmarshalCollections(r *model.PersistedRecord, params, attestations, rules, deps []byte) error {
	if len(params) > 0 {
		if err := json.Unmarshal(params, &r.Parameters); err != nil {
			return fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if len(attestations) > 0 {
		if err := json.Unmarshal(attestations, &r.Attestations); err != nil {
			return fmt.Errorf("unmarshal attestations: %w", err)
		}
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &r.FileRules); err != nil {
			return fmt.Errorf("unmarshal file rules: %w", err)
		}
	}
	if len(deps) > 0 {
		if err := json.Unmarshal(deps, &r.Dependencies); err != nil {
			return fmt.Errorf("unmarshal dependencies: %w", err)
		}
	}
	return nil
}
