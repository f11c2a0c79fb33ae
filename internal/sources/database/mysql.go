package database

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"perfwatch/internal/counters"
)

// defaultVariables are the SHOW GLOBAL STATUS counters kept when no filter
// is configured.
var defaultVariables = []string{
	"Threads_connected",
	"Threads_running",
	"Max_used_connections",
	"Questions",
	"Slow_queries",
	"Com_select",
	"Com_insert",
	"Com_update",
	"Com_delete",
	"Bytes_received",
	"Bytes_sent",
	"Innodb_buffer_pool_reads",
	"Innodb_buffer_pool_read_requests",
	"Innodb_row_lock_waits",
	"Aborted_connects",
	"Uptime",
}

type statusRow struct {
	name  string
	value string
}

func (c *Client) readMySQL(ctx context.Context, db *sql.DB) (*counters.Entities, error) {
	rows, err := db.QueryContext(ctx, "SHOW GLOBAL STATUS")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var status []statusRow
	for rows.Next() {
		var r statusRow
		if err := rows.Scan(&r.name, &r.value); err != nil {
			continue
		}
		status = append(status, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return mysqlTree(c.settings.Server, status, c.settings.Variables), nil
}

// mysqlTree keeps the numeric status variables named in variables, in that
// order. A configured variable the server does not report is Unavailable.
func mysqlTree(server string, status []statusRow, variables []string) *counters.Entities {
	if len(variables) == 0 {
		variables = defaultVariables
	}
	byName := make(map[string]string, len(status))
	for _, r := range status {
		if _, err := strconv.ParseFloat(strings.TrimSpace(r.value), 64); err == nil {
			byName[strings.ToLower(r.name)] = strings.TrimSpace(r.value)
		}
	}

	group := counters.NewGroup("Status")
	seen := make(map[string]bool, len(variables))
	for _, name := range variables {
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		v, ok := byName[key]
		if !ok {
			v = counters.Unavailable
		}
		group.Add(counters.NewValue(name, v))
	}
	return counters.NewEntities(counters.NewEntity(server, true, group))
}
