package database

import (
	"context"
	"database/sql"
	"slices"

	"perfwatch/internal/counters"
)

// pgColumns are the pg_stat_database columns reported under Stats.
var pgColumns = []string{
	"numbackends",
	"xact_commit",
	"xact_rollback",
	"blks_read",
	"blks_hit",
	"tup_returned",
	"tup_fetched",
	"tup_inserted",
	"tup_updated",
	"tup_deleted",
	"conflicts",
	"deadlocks",
}

const pgStatQuery = `
	SELECT d.datname, d.datallowconn,
		s.numbackends, s.xact_commit, s.xact_rollback, s.blks_read, s.blks_hit,
		s.tup_returned, s.tup_fetched, s.tup_inserted, s.tup_updated, s.tup_deleted,
		s.conflicts, s.deadlocks
	FROM pg_stat_database s
	JOIN pg_database d ON d.oid = s.datid
	WHERE NOT d.datistemplate
	ORDER BY d.datname`

type pgStat struct {
	name      string
	allowConn bool
	values    []sql.NullInt64
}

func (c *Client) readPostgres(ctx context.Context, db *sql.DB) (*counters.Entities, error) {
	rows, err := db.QueryContext(ctx, pgStatQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []pgStat
	for rows.Next() {
		st := pgStat{values: make([]sql.NullInt64, len(pgColumns))}
		dest := []any{&st.name, &st.allowConn}
		for i := range st.values {
			dest = append(dest, &st.values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			c.logger.Debug("skipping pg_stat_database row", "error", err)
			continue
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return postgresTree(stats, c.settings.Databases), nil
}

// postgresTree makes one entity per database. Databases that refuse
// connections are offered but unavailable.
func postgresTree(stats []pgStat, databases []string) *counters.Entities {
	out := counters.NewEntities()
	for _, st := range stats {
		if len(databases) > 0 && !slices.Contains(databases, st.name) {
			continue
		}
		group := counters.NewGroup("Stats")
		for i, col := range pgColumns {
			v := counters.Unavailable
			if i < len(st.values) && st.values[i].Valid {
				v = counters.FormatValue(st.values[i].Int64)
			}
			group.Add(counters.NewValue(col, v))
		}
		out.Add(counters.NewEntity(st.name, st.allowConn, group))
	}
	return out
}
