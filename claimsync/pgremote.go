// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package claimsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Default remote table names. The primary table predates a rename; the
// all-lowercase alternate still holds rows written by older backend paths.
const (
	DefaultTable         = "pengajuan_santunan"
	DefaultFallbackTable = "pengajuansantunan"
)

// LocalKeyColumn is the column the remote store keys sync rows by. It is
// distinct from the database's own primary key.
const LocalKeyColumn = "local_key"

// fetchOrderBy sorts fetched rows newest first by the same timestamp
// preference list Record.UpdatedAtCandidate uses, with the audit timestamps
// between updated_at and submission_time.
const fetchOrderBy = `ORDER BY COALESCE(updated_at, verified_at, unverified_at, submission_time, created_at) DESC NULLS LAST`

// PgRemoteStore implements RemoteStore against PostgreSQL. Every write path
// is keyed by local_key, so retries are idempotent.
type PgRemoteStore struct {
	pool          *pgxpool.Pool
	table         string
	fallbackTable string
	logger        *slog.Logger
	chain         *StrategyChain
}

// NewPgRemoteStore builds a remote store over an existing pool. rpc is an
// optional privileged strategy tried before the SQL ones; pass nil to skip
// it.
func NewPgRemoteStore(pool *pgxpool.Pool, table, fallbackTable string, rpc PersistStrategy, logger *slog.Logger) *PgRemoteStore {
	if table == "" {
		table = DefaultTable
	}
	if fallbackTable == "" {
		fallbackTable = DefaultFallbackTable
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &PgRemoteStore{
		pool:          pool,
		table:         table,
		fallbackTable: fallbackTable,
		logger:        logger,
	}
	var strategies []PersistStrategy
	if rpc != nil {
		strategies = append(strategies, rpc)
	}
	strategies = append(strategies,
		&updateStrategy{store: s, table: table},
		&upsertStrategy{store: s, table: table},
		&updateStrategy{store: s, table: fallbackTable},
		&upsertStrategy{store: s, table: fallbackTable},
	)
	s.chain = &StrategyChain{Strategies: strategies, Logger: logger}
	return s
}

// FetchAll reads all rows matching the filter, ordered newest first. When
// the primary table is missing server-side it retries the alternate name
// once; if both fail the caller gets a RemoteUnavailableError and should
// fall back to cache-only mode.
func (s *PgRemoteStore) FetchAll(ctx context.Context, f Filter) ([]RemoteRow, error) {
	rows, err := s.fetchTable(ctx, s.table, f)
	if err == nil {
		return rows, nil
	}
	if !isMissingRelation(err) {
		return nil, &RemoteUnavailableError{Err: err}
	}
	s.logger.Warn("primary table missing, retrying fallback table",
		"table", s.table, "fallback", s.fallbackTable)
	rows, err = s.fetchTable(ctx, s.fallbackTable, f)
	if err != nil {
		return nil, &RemoteUnavailableError{Err: err}
	}
	return rows, nil
}

func (s *PgRemoteStore) fetchTable(ctx context.Context, table string, f Filter) ([]RemoteRow, error) {
	var conds []string
	var args []any
	if f.Template != "" {
		args = append(args, f.Template)
		conds = append(conds, fmt.Sprintf("template = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	query := fmt.Sprintf(`SELECT * FROM %s`, pgx.Identifier{table}.Sanitize())
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " " + fetchOrderBy

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []RemoteRow
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row from %s: %w", table, err)
		}
		row := make(RemoteRow, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows from %s: %w", table, err)
	}
	return out, nil
}

// PersistPatch runs the strategy chain for one record.
func (s *PgRemoteStore) PersistPatch(ctx context.Context, id string, patch map[string]any, full Record) error {
	return s.chain.Persist(ctx, id, patch, full)
}

// updateStrategy issues a targeted UPDATE ... WHERE local_key = id. It
// applies only when at least one row was affected.
type updateStrategy struct {
	store *PgRemoteStore
	table string
}

func (u *updateStrategy) Name() string { return "update:" + u.table }

func (u *updateStrategy) TryPersist(ctx context.Context, id string, patch map[string]any, _ Record) (bool, error) {
	if len(patch) == 0 {
		return false, nil
	}
	cols := sortedKeys(patch)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		args = append(args, toPgValue(patch[col]))
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{col}.Sanitize(), len(args)))
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE %s SET %s WHERE %s = $%d`,
		pgx.Identifier{u.table}.Sanitize(), strings.Join(sets, ", "), LocalKeyColumn, len(args))

	tag, err := u.store.pool.Exec(ctx, query, args...)
	if err != nil {
		if isMissingRelation(err) || isMissingColumn(err) {
			// Table shape mismatch: let the chain move on.
			return false, nil
		}
		return false, fmt.Errorf("update %s: %w", u.table, err)
	}
	return tag.RowsAffected() > 0, nil
}

// upsertStrategy reconstructs the full row and upserts it by local_key.
// This covers records that exist locally but were never persisted remotely.
type upsertStrategy struct {
	store *PgRemoteStore
	table string
}

func (u *upsertStrategy) Name() string { return "upsert:" + u.table }

func (u *upsertStrategy) TryPersist(ctx context.Context, id string, _ map[string]any, full Record) (bool, error) {
	row := recordToColumns(full)
	row[LocalKeyColumn] = id

	cols := sortedKeys(row)
	names := make([]string, 0, len(cols))
	placeholders := make([]string, 0, len(cols))
	updates := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		args = append(args, toPgValue(row[col]))
		ident := pgx.Identifier{col}.Sanitize()
		names = append(names, ident)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		if col != LocalKeyColumn {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", ident, ident))
		}
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
		pgx.Identifier{u.table}.Sanitize(),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
		LocalKeyColumn,
		strings.Join(updates, ", "))

	tag, err := u.store.pool.Exec(ctx, query, args...)
	if err != nil {
		if isMissingRelation(err) || isMissingColumn(err) {
			return false, nil
		}
		return false, fmt.Errorf("upsert %s: %w", u.table, err)
	}
	return tag.RowsAffected() > 0, nil
}

// recordToColumns flattens a canonical record onto the conceptual remote
// schema: scalar columns plus JSON columns for checklist and attachment
// maps. LocalSeq is a device-local counter and never leaves the device.
func recordToColumns(rec Record) map[string]any {
	return map[string]any{
		"status":             rec.Status,
		"template":           rec.Template,
		"nomor_laporan":      rec.NomorLaporan,
		"nama_korban":        rec.NamaKorban,
		"tanggal_kecelakaan": rec.TanggalKecelakaan,
		"lokasi_kecelakaan":  rec.LokasiKecelakaan,
		"rumah_sakit":        rec.RumahSakit,
		"ahli_waris_sesuai":  rec.AhliWarisSesuai,
		"verified":           rec.Verified,
		"verified_at":        rec.Audit.VerifiedAt,
		"verify_note":        rec.Audit.VerifyNote,
		"verified_by":        rec.Audit.VerifiedBy,
		"checklist":          rec.Audit.Checklist,
		"unverified_at":      rec.Audit.UnverifiedAt,
		"unverify_note":      rec.Audit.UnverifyNote,
		"finished_at":        rec.Audit.FinishedAt,
		"finish_note":        rec.Audit.FinishNote,
		"rejected_at":        rec.Audit.RejectedAt,
		"reject_note":        rec.Audit.RejectNote,
		"attachments":        rec.Attachments,
		"foto_survei":        rec.FotoSurvei,
		"submission_time":    rec.SubmissionTime,
		"created_at":         rec.CreatedAt,
		"updated_at":         rec.UpdatedAt,
	}
}

// toPgValue converts engine values into driver-friendly ones: composite
// values become JSON text, empty strings become NULL (the remote columns
// are nullable and older rows use NULL, not "").
func toPgValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return t
	case bool, int, int64, float64:
		return t
	case *Checklist:
		if t == nil {
			return nil
		}
		data, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(data)
	case TriBool:
		switch t {
		case TriTrue:
			return true
		case TriFalse:
			return false
		}
		return nil
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(data)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// isMissingRelation reports the server-side "relation does not exist" error
// that signals a table-name mismatch and drives the fallback-table retry.
func isMissingRelation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == "42P01"
}

// isMissingColumn reports undefined_column, treated as a table-shape
// mismatch rather than a hard failure.
func isMissingColumn(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == "42703"
}
