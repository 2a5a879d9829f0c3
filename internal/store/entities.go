// ABOUTME: Keyed upsert/delete/list accessors for the auxiliary entity tables
// ABOUTME: Connectors, workflows, dashboards (with widgets) and users used by the application layer

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UpsertConnector inserts or updates a connector. An empty ID is assigned a new one.
func (s *SQLiteStore) UpsertConnector(ctx context.Context, c *Connector) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = ConnectorStatusInactive
	}
	cfg, err := encodeJSON(c.Config)
	if err != nil {
		return fmt.Errorf("encoding connector config: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connectors (id, name, kind, config_json, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			config_json = excluded.config_json,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Kind, cfg, c.Status, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("upserting connector: %w", err)
	}

	return s.db.QueryRowContext(ctx, "SELECT created_at, updated_at FROM connectors WHERE id = ?", c.ID).
		Scan(timeScanner{&c.CreatedAt}, timeScanner{&c.UpdatedAt})
}

// DeleteConnector removes a connector, reporting whether it existed
func (s *SQLiteStore) DeleteConnector(ctx context.Context, id string) (bool, error) {
	return s.deleteByID(ctx, "connectors", id)
}

// ListConnectors returns all connectors ordered by creation time
func (s *SQLiteStore) ListConnectors(ctx context.Context) ([]*Connector, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, config_json, status, created_at, updated_at
		FROM connectors ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing connectors: %w", err)
	}
	defer rows.Close()

	out := []*Connector{}
	for rows.Next() {
		c := &Connector{}
		var cfg sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Kind, &cfg, &c.Status,
			timeScanner{&c.CreatedAt}, timeScanner{&c.UpdatedAt}); err != nil {
			return nil, fmt.Errorf("scanning connector: %w", err)
		}
		if c.Config, err = decodeJSON(cfg); err != nil {
			return nil, fmt.Errorf("decoding connector %s config: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertWorkflow inserts or updates a workflow. An empty ID is assigned a new one.
func (s *SQLiteStore) UpsertWorkflow(ctx context.Context, w *Workflow) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if w.Status == "" {
		w.Status = WorkflowStatusDraft
	}
	def, err := encodeJSON(w.Definition)
	if err != nil {
		return fmt.Errorf("encoding workflow definition: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, definition_json, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			definition_json = excluded.definition_json,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		w.ID, w.Name, nullString(w.Description), def, w.Status, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("upserting workflow: %w", err)
	}

	return s.db.QueryRowContext(ctx, "SELECT created_at, updated_at FROM workflows WHERE id = ?", w.ID).
		Scan(timeScanner{&w.CreatedAt}, timeScanner{&w.UpdatedAt})
}

// DeleteWorkflow removes a workflow, reporting whether it existed
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) (bool, error) {
	return s.deleteByID(ctx, "workflows", id)
}

// ListWorkflows returns all workflows ordered by creation time
func (s *SQLiteStore) ListWorkflows(ctx context.Context) ([]*Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, definition_json, status, created_at, updated_at
		FROM workflows ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	out := []*Workflow{}
	for rows.Next() {
		w := &Workflow{}
		var desc, def sql.NullString
		if err := rows.Scan(&w.ID, &w.Name, &desc, &def, &w.Status,
			timeScanner{&w.CreatedAt}, timeScanner{&w.UpdatedAt}); err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		w.Description = desc.String
		if w.Definition, err = decodeJSON(def); err != nil {
			return nil, fmt.Errorf("decoding workflow %s definition: %w", w.ID, err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpsertDashboard inserts or updates a dashboard and replaces its widgets.
// Empty dashboard or widget IDs are assigned new ones.
func (s *SQLiteStore) UpsertDashboard(ctx context.Context, d *Dashboard) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO dashboards (id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		d.ID, d.Name, nullString(d.Description), formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("upserting dashboard: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM dashboard_widgets WHERE dashboard_id = ?", d.ID); err != nil {
		return fmt.Errorf("clearing widgets: %w", err)
	}

	for i := range d.Widgets {
		w := &d.Widgets[i]
		if w.ID == "" {
			w.ID = uuid.New().String()
		}
		cfg, err := encodeJSON(w.Config)
		if err != nil {
			return fmt.Errorf("encoding widget config: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO dashboard_widgets (id, dashboard_id, kind, title, query, position, config_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			w.ID, d.ID, w.Kind, w.Title, w.Query, w.Position, cfg,
		)
		if err != nil {
			return fmt.Errorf("inserting widget: %w", err)
		}
	}

	if err := tx.QueryRowContext(ctx, "SELECT created_at, updated_at FROM dashboards WHERE id = ?", d.ID).
		Scan(timeScanner{&d.CreatedAt}, timeScanner{&d.UpdatedAt}); err != nil {
		return fmt.Errorf("reading dashboard timestamps: %w", err)
	}

	return tx.Commit()
}

// DeleteDashboard removes a dashboard and its widgets, reporting whether it existed
func (s *SQLiteStore) DeleteDashboard(ctx context.Context, id string) (bool, error) {
	return s.deleteByID(ctx, "dashboards", id)
}

// ListDashboards returns all dashboards with their widgets ordered by position
func (s *SQLiteStore) ListDashboards(ctx context.Context) ([]*Dashboard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM dashboards ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing dashboards: %w", err)
	}

	out := []*Dashboard{}
	byID := make(map[string]*Dashboard)
	for rows.Next() {
		d := &Dashboard{Widgets: []Widget{}}
		var desc sql.NullString
		if err := rows.Scan(&d.ID, &d.Name, &desc, timeScanner{&d.CreatedAt}, timeScanner{&d.UpdatedAt}); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning dashboard: %w", err)
		}
		d.Description = desc.String
		out = append(out, d)
		byID[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("listing dashboards: %w", err)
	}
	// Close before the next query: the store has a single connection
	rows.Close()

	wrows, err := s.db.QueryContext(ctx, `
		SELECT id, dashboard_id, kind, title, query, position, config_json
		FROM dashboard_widgets ORDER BY dashboard_id, position, id`)
	if err != nil {
		return nil, fmt.Errorf("listing widgets: %w", err)
	}
	defer wrows.Close()

	for wrows.Next() {
		var w Widget
		var dashboardID string
		var cfg sql.NullString
		if err := wrows.Scan(&w.ID, &dashboardID, &w.Kind, &w.Title, &w.Query, &w.Position, &cfg); err != nil {
			return nil, fmt.Errorf("scanning widget: %w", err)
		}
		if w.Config, err = decodeJSON(cfg); err != nil {
			return nil, fmt.Errorf("decoding widget %s config: %w", w.ID, err)
		}
		if d, ok := byID[dashboardID]; ok {
			d.Widgets = append(d.Widgets, w)
		}
	}
	return out, wrows.Err()
}

// UpsertUser inserts or updates a user. An empty ID is assigned a new one.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Role == "" {
		u.Role = RoleViewer
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			role = excluded.role`,
		u.ID, u.Email, u.DisplayName, u.Role, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}

	return s.db.QueryRowContext(ctx, "SELECT created_at FROM users WHERE id = ?", u.ID).
		Scan(timeScanner{&u.CreatedAt})
}

// DeleteUser removes a user, reporting whether it existed
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) (bool, error) {
	return s.deleteByID(ctx, "users", id)
}

// ListUsers returns all users ordered by creation time
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, display_name, role, created_at
		FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	out := []*User{}
	for rows.Next() {
		u := &User{}
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Role, timeScanner{&u.CreatedAt}); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// deleteByID deletes a row from an entity table by primary key
func (s *SQLiteStore) deleteByID(ctx context.Context, table, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)+" WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deleting from %s: %w", table, err)
	}
	return n > 0, nil
}

// timeScanner scans an RFC3339 TEXT column into a time.Time
type timeScanner struct{ t *time.Time }

func (ts timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*ts.t = time.Time{}
	case string:
		*ts.t = parseTime(v)
	case []byte:
		*ts.t = parseTime(string(v))
	case time.Time:
		*ts.t = v.UTC()
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func encodeJSON(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeJSON(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}
