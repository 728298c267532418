package mvarload_api

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
)

type canonRow struct {
	ID     int64          `db:"id"`
	RefTxt string         `db:"variant_ref_txt"`
	CAID   sql.NullString `db:"caid"`
}

// AssemblyReconciler gives canonical rows created by a lifted import the
// CAID of the variant they were lifted from.
type AssemblyReconciler struct {
	Session *Session
	Xref    *StagingQueue
	Window  JobWindow
	Logger  *Logger
	Metrics *Metrics
}

// Run walks the canonical table in id windows. Rows that already carry a
// CAID are left alone; rows without a staged origin, or whose origin has no
// CAID, are counted as skipped and keep a NULL CAID.
func (r *AssemblyReconciler) Run(ctx context.Context) (result JobResult, err error) {
	w := r.Window.normalize()
	ceiling, err := jobCeiling(ctx, r.Session, w, canonTable)
	if err != nil {
		return result, err
	}

	if err := r.Session.DisableConstraints(ctx); err != nil {
		return result, err
	}
	defer func() {
		if restoreErr := r.Session.RestoreConstraints(ctx); restoreErr != nil && err == nil {
			err = restoreErr
		}
	}()

	r.Logger.Info("reconciling canonical identifiers", "xref", r.Xref.Table, "start_id", w.StartID, "ceiling", ceiling)
	err = forWindows(ctx, JobCanon, w, ceiling, &result, r.Logger, func(start, stop int64) error {
		var rows []canonRow
		query := r.Session.conn.Rebind("SELECT id, variant_ref_txt, caid FROM " + canonTable + " WHERE id BETWEEN ? AND ? ORDER BY id")
		if err := r.Session.conn.SelectContext(ctx, &rows, query, start, stop); err != nil {
			return err
		}
		result.Rows += int64(len(rows))

		pending := make([]canonRow, 0, len(rows))
		for _, row := range rows {
			if !row.CAID.Valid {
				pending = append(pending, row)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		caids, err := r.originCAIDs(ctx, pending)
		if err != nil {
			return err
		}

		started := time.Now()
		var updated int64
		err = r.Session.InTx(ctx, func(tx *sqlx.Tx) error {
			stmt, err := tx.PreparexContext(ctx, tx.Rebind("UPDATE "+canonTable+" SET caid = ? WHERE id = ?"))
			if err != nil {
				return err
			}
			defer stmt.Close()
			for i, row := range pending {
				if caids[i] == "" {
					continue
				}
				if _, err := stmt.ExecContext(ctx, caids[i], row.ID); err != nil {
					return err
				}
				updated++
			}
			return nil
		})
		if err != nil {
			return err
		}
		result.Written += updated
		result.Skipped += int64(len(pending)) - updated
		if r.Metrics != nil {
			r.Metrics.observeBatch(JobCanon, started)
		}
		return nil
	})
	if result.Skipped > 0 {
		r.Logger.Warn("canonical rows left without caid", "rows", result.Skipped)
	}
	return result, err
}

// originCAIDs returns, aligned with rows, the CAID of each row's origin
// variant or "" when there is none. Both lookups are keyed maps, so the
// alignment follows the input order whatever order the database returns.
func (r *AssemblyReconciler) originCAIDs(ctx context.Context, rows []canonRow) ([]string, error) {
	lifted := make([]string, len(rows))
	for i, row := range rows {
		lifted[i] = row.RefTxt
	}
	origins, err := lookupValues(ctx, r.Session.conn, r.Session.maxInParams,
		"SELECT lifted_ref_txt AS k, origin_ref_txt AS v FROM "+r.Xref.Table+" WHERE lifted_ref_txt IN (?) ORDER BY id",
		uniqueStrings(lifted))
	if err != nil {
		return nil, err
	}

	originKeys := make([]string, len(rows))
	for i, key := range lifted {
		originKeys[i] = origins[key]
	}
	caidByOrigin, err := lookupValues(ctx, r.Session.conn, r.Session.maxInParams,
		"SELECT variant_ref_txt AS k, caid AS v FROM "+canonTable+" WHERE variant_ref_txt IN (?) ORDER BY id",
		uniqueStrings(originKeys))
	if err != nil {
		return nil, err
	}

	caids := make([]string, len(rows))
	for i, origin := range originKeys {
		if origin != "" {
			caids[i] = caidByOrigin[origin]
		}
	}
	return caids, nil
}
