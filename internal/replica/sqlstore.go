package replica

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/commutetracker-core/internal/common/db"
)

// SQLStore is the Postgres-backed Store. Multi-entity steps run inside one
// transaction; Postgres snapshot isolation gives readers a consistent view
// of the entity graph while the writer commits.
type SQLStore struct {
	db *db.DB
}

func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database}
}

// EnsureSchema creates the replica tables if they do not exist yet.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vehicles (
			mac          TEXT PRIMARY KEY,
			line_id      BIGINT,
			last_refresh TIMESTAMPTZ NOT NULL,
			synced       BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS lines (
			id     BIGINT PRIMARY KEY,
			name   TEXT NOT NULL,
			synced BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS stops (
			id     BIGINT PRIMARY KEY,
			lat    DOUBLE PRECISION NOT NULL,
			lon    DOUBLE PRECISION NOT NULL,
			synced BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS line_stops (
			line_id BIGINT NOT NULL,
			stop_id BIGINT NOT NULL,
			PRIMARY KEY (line_id, stop_id)
		)`,
		`CREATE TABLE IF NOT EXISTS travels (
			id               BIGSERIAL PRIMARY KEY,
			user_id          BIGINT NOT NULL,
			started_at       TIMESTAMPTZ NOT NULL,
			duration_seconds BIGINT NOT NULL DEFAULT 0,
			distance_meters  DOUBLE PRECISION NOT NULL DEFAULT 0,
			vehicle_mac      TEXT NOT NULL,
			line_id          BIGINT,
			start_stop_id    BIGINT NOT NULL,
			end_stop_id      BIGINT,
			synced           BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS session (
			id          INT PRIMARY KEY CHECK (id = 1),
			network_mac TEXT NOT NULL,
			travel_id   BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Vehicle(ctx context.Context, mac string) (*Vehicle, error) {
	v := &Vehicle{}
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT mac, line_id, last_refresh, synced FROM vehicles WHERE mac = $1`, mac).
		Scan(&v.MAC, &v.LineID, &v.LastRefresh, &v.Synced)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying vehicle %s: %w", mac, err)
	}
	return v, nil
}

func (s *SQLStore) Vehicles(ctx context.Context) ([]*Vehicle, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT mac, line_id, last_refresh, synced FROM vehicles ORDER BY mac`)
	if err != nil {
		return nil, fmt.Errorf("querying vehicles: %w", err)
	}
	defer rows.Close()

	var out []*Vehicle
	for rows.Next() {
		v := &Vehicle{}
		if err := rows.Scan(&v.MAC, &v.LineID, &v.LastRefresh, &v.Synced); err != nil {
			return nil, fmt.Errorf("scanning vehicle: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLStore) SaveVehicle(ctx context.Context, v *Vehicle) error {
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO vehicles (mac, line_id, last_refresh, synced)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mac) DO UPDATE
		SET line_id = EXCLUDED.line_id,
		    last_refresh = EXCLUDED.last_refresh,
		    synced = EXCLUDED.synced`,
		v.MAC, v.LineID, v.LastRefresh, v.Synced)
	if err != nil {
		return fmt.Errorf("saving vehicle %s: %w", v.MAC, err)
	}
	return nil
}

func (s *SQLStore) Line(ctx context.Context, id int64) (*Line, error) {
	l := &Line{}
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT id, name, synced FROM lines WHERE id = $1`, id).
		Scan(&l.ID, &l.Name, &l.Synced)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying line %d: %w", id, err)
	}
	if l.StopIDs, err = s.lineStopIDs(ctx, id); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *SQLStore) lineStopIDs(ctx context.Context, lineID int64) ([]int64, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT stop_id FROM line_stops WHERE line_id = $1 ORDER BY stop_id`, lineID)
	if err != nil {
		return nil, fmt.Errorf("querying line stops: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning line stop: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) Lines(ctx context.Context) ([]*Line, error) {
	rows, err := s.db.DB().QueryContext(ctx, `SELECT id, name, synced FROM lines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying lines: %w", err)
	}
	defer rows.Close()

	var out []*Line
	for rows.Next() {
		l := &Line{}
		if err := rows.Scan(&l.ID, &l.Name, &l.Synced); err != nil {
			return nil, fmt.Errorf("scanning line: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, l := range out {
		if l.StopIDs, err = s.lineStopIDs(ctx, l.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) SaveLine(ctx context.Context, l *Line) error {
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO lines (id, name, synced) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, synced = EXCLUDED.synced`,
		l.ID, l.Name, l.Synced)
	if err != nil {
		return fmt.Errorf("saving line %d: %w", l.ID, err)
	}
	return nil
}

func (s *SQLStore) NewLocalLine(ctx context.Context, name string) (*Line, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := nextProvisionalID(ctx, tx, "lines")
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO lines (id, name, synced) VALUES ($1, $2, FALSE)`, id, name); err != nil {
		return nil, fmt.Errorf("inserting line: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return &Line{ID: id, Name: name}, nil
}

func (s *SQLStore) RekeyLine(ctx context.Context, oldID, newID int64) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM lines WHERE id = $1)`, newID).Scan(&exists); err != nil {
		return fmt.Errorf("checking line %d: %w", newID, err)
	}
	if exists && newID != oldID {
		// The server already knows this line under newID: fold the
		// provisional record into it instead of colliding.
		res, err := tx.ExecContext(ctx, `DELETE FROM lines WHERE id = $1`, oldID)
		if err != nil {
			return fmt.Errorf("merging line %d: %w", oldID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE lines SET synced = TRUE WHERE id = $1`, newID); err != nil {
			return fmt.Errorf("marking line %d synced: %w", newID, err)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE lines SET id = $2, synced = TRUE WHERE id = $1`, oldID, newID)
		if err != nil {
			return fmt.Errorf("rekeying line %d: %w", oldID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	// Move links via insert-then-delete so pairs already present under the
	// new id do not collide on the primary key.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO line_stops (line_id, stop_id)
		SELECT $2, stop_id FROM line_stops WHERE line_id = $1
		ON CONFLICT DO NOTHING`, oldID, newID); err != nil {
		return fmt.Errorf("rewriting line links: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM line_stops WHERE line_id = $1`, oldID); err != nil {
		return fmt.Errorf("rewriting line links: %w", err)
	}
	for _, q := range []string{
		`UPDATE vehicles SET line_id = $2 WHERE line_id = $1`,
		`UPDATE travels SET line_id = $2 WHERE line_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, oldID, newID); err != nil {
			return fmt.Errorf("rewriting line references: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) Stop(ctx context.Context, id int64) (*Stop, error) {
	st := &Stop{}
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT id, lat, lon, synced FROM stops WHERE id = $1`, id).
		Scan(&st.ID, &st.Lat, &st.Lon, &st.Synced)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying stop %d: %w", id, err)
	}
	if st.LineIDs, err = s.stopLineIDs(ctx, id); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *SQLStore) stopLineIDs(ctx context.Context, stopID int64) ([]int64, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT line_id FROM line_stops WHERE stop_id = $1 ORDER BY line_id`, stopID)
	if err != nil {
		return nil, fmt.Errorf("querying stop lines: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stop line: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) Stops(ctx context.Context) ([]*Stop, error) {
	rows, err := s.db.DB().QueryContext(ctx, `SELECT id, lat, lon, synced FROM stops ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	var out []*Stop
	for rows.Next() {
		st := &Stop{}
		if err := rows.Scan(&st.ID, &st.Lat, &st.Lon, &st.Synced); err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, st := range out {
		if st.LineIDs, err = s.stopLineIDs(ctx, st.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLStore) SaveStop(ctx context.Context, st *Stop) error {
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO stops (id, lat, lon, synced) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET lat = EXCLUDED.lat, lon = EXCLUDED.lon, synced = EXCLUDED.synced`,
		st.ID, st.Lat, st.Lon, st.Synced)
	if err != nil {
		return fmt.Errorf("saving stop %d: %w", st.ID, err)
	}
	return nil
}

func (s *SQLStore) NewLocalStop(ctx context.Context, lat, lon float64) (*Stop, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := nextProvisionalID(ctx, tx, "stops")
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stops (id, lat, lon, synced) VALUES ($1, $2, $3, FALSE)`, id, lat, lon); err != nil {
		return nil, fmt.Errorf("inserting stop: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return &Stop{ID: id, Lat: lat, Lon: lon}, nil
}

func (s *SQLStore) RekeyStop(ctx context.Context, oldID, newID int64) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM stops WHERE id = $1)`, newID).Scan(&exists); err != nil {
		return fmt.Errorf("checking stop %d: %w", newID, err)
	}
	if exists && newID != oldID {
		// Server-side dedup can hand back an id we already hold; fold the
		// provisional record into the known stop.
		res, err := tx.ExecContext(ctx, `DELETE FROM stops WHERE id = $1`, oldID)
		if err != nil {
			return fmt.Errorf("merging stop %d: %w", oldID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE stops SET synced = TRUE WHERE id = $1`, newID); err != nil {
			return fmt.Errorf("marking stop %d synced: %w", newID, err)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE stops SET id = $2, synced = TRUE WHERE id = $1`, oldID, newID)
		if err != nil {
			return fmt.Errorf("rekeying stop %d: %w", oldID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO line_stops (line_id, stop_id)
		SELECT line_id, $2 FROM line_stops WHERE stop_id = $1
		ON CONFLICT DO NOTHING`, oldID, newID); err != nil {
		return fmt.Errorf("rewriting stop links: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM line_stops WHERE stop_id = $1`, oldID); err != nil {
		return fmt.Errorf("rewriting stop links: %w", err)
	}
	for _, q := range []string{
		`UPDATE travels SET start_stop_id = $2 WHERE start_stop_id = $1`,
		`UPDATE travels SET end_stop_id = $2 WHERE end_stop_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, oldID, newID); err != nil {
			return fmt.Errorf("rewriting stop references: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) LinkLineStop(ctx context.Context, lineID, stopID int64) error {
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO line_stops (line_id, stop_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, lineID, stopID)
	if err != nil {
		return fmt.Errorf("linking line %d to stop %d: %w", lineID, stopID, err)
	}
	return nil
}

const travelColumns = `id, user_id, started_at, duration_seconds, distance_meters,
	vehicle_mac, line_id, start_stop_id, end_stop_id, synced`

func scanTravel(row interface{ Scan(...interface{}) error }) (*Travel, error) {
	t := &Travel{}
	err := row.Scan(&t.ID, &t.UserID, &t.StartedAt, &t.DurationSeconds, &t.DistanceMeters,
		&t.VehicleMAC, &t.LineID, &t.StartStopID, &t.EndStopID, &t.Synced)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLStore) OpenTravel(ctx context.Context) (*Travel, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+travelColumns+` FROM travels WHERE end_stop_id IS NULL LIMIT 1`)
	t, err := scanTravel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying open travel: %w", err)
	}
	return t, nil
}

func (s *SQLStore) Travel(ctx context.Context, id int64) (*Travel, error) {
	row := s.db.DB().QueryRowContext(ctx,
		`SELECT `+travelColumns+` FROM travels WHERE id = $1`, id)
	t, err := scanTravel(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying travel %d: %w", id, err)
	}
	return t, nil
}

func (s *SQLStore) BeginTravel(ctx context.Context, t *Travel, v *Vehicle) (*Travel, error) {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var openCount int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM travels WHERE end_stop_id IS NULL`).Scan(&openCount); err != nil {
		return nil, fmt.Errorf("counting open travels: %w", err)
	}
	if openCount > 0 {
		return nil, fmt.Errorf("replica: a travel is already open")
	}

	nt := *t
	err = tx.QueryRowContext(ctx, `
		INSERT INTO travels (user_id, started_at, duration_seconds, distance_meters,
			vehicle_mac, line_id, start_stop_id, end_stop_id, synced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, FALSE)
		RETURNING id`,
		t.UserID, t.StartedAt, t.DurationSeconds, t.DistanceMeters,
		t.VehicleMAC, t.LineID, t.StartStopID).Scan(&nt.ID)
	if err != nil {
		return nil, fmt.Errorf("inserting travel: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vehicles (mac, line_id, last_refresh, synced)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mac) DO UPDATE
		SET line_id = EXCLUDED.line_id,
		    last_refresh = EXCLUDED.last_refresh,
		    synced = EXCLUDED.synced`,
		v.MAC, v.LineID, v.LastRefresh, v.Synced); err != nil {
		return nil, fmt.Errorf("upserting vehicle: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session (id, network_mac, travel_id) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET network_mac = EXCLUDED.network_mac, travel_id = EXCLUDED.travel_id`,
		v.MAC, nt.ID); err != nil {
		return nil, fmt.Errorf("saving session binding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return &nt, nil
}

func (s *SQLStore) SaveTravel(ctx context.Context, t *Travel) error {
	res, err := s.db.DB().ExecContext(ctx, `
		UPDATE travels
		SET user_id = $2, started_at = $3, duration_seconds = $4, distance_meters = $5,
		    vehicle_mac = $6, line_id = $7, start_stop_id = $8, end_stop_id = $9, synced = $10
		WHERE id = $1`,
		t.ID, t.UserID, t.StartedAt, t.DurationSeconds, t.DistanceMeters,
		t.VehicleMAC, t.LineID, t.StartStopID, t.EndStopID, t.Synced)
	if err != nil {
		return fmt.Errorf("saving travel %d: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) CloseTravel(ctx context.Context, t *Travel) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE travels
		SET duration_seconds = $2, distance_meters = $3, line_id = $4,
		    end_stop_id = $5, synced = $6
		WHERE id = $1`,
		t.ID, t.DurationSeconds, t.DistanceMeters, t.LineID, t.EndStopID, t.Synced)
	if err != nil {
		return fmt.Errorf("closing travel %d: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session WHERE id = 1`); err != nil {
		return fmt.Errorf("clearing session binding: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) CompletedUnsynced(ctx context.Context) ([]*Travel, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT `+travelColumns+` FROM travels
		 WHERE end_stop_id IS NOT NULL AND synced = FALSE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying unsynced travels: %w", err)
	}
	defer rows.Close()

	var out []*Travel
	for rows.Next() {
		t, err := scanTravel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning travel: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) PruneTravels(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.DB().ExecContext(ctx, `
		DELETE FROM travels
		WHERE end_stop_id IS NOT NULL AND synced = TRUE AND started_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("pruning travels: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Binding(ctx context.Context) (*Binding, error) {
	b := &Binding{}
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT network_mac, travel_id FROM session WHERE id = 1`).
		Scan(&b.NetworkMAC, &b.TravelID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying session binding: %w", err)
	}
	return b, nil
}

func (s *SQLStore) ClearBinding(ctx context.Context) error {
	if _, err := s.db.DB().ExecContext(ctx, `DELETE FROM session WHERE id = 1`); err != nil {
		return fmt.Errorf("clearing session binding: %w", err)
	}
	return nil
}

func nextProvisionalID(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	var minID sql.NullInt64
	q := fmt.Sprintf(`SELECT MIN(id) FROM %s WHERE id < 0`, table)
	if err := tx.QueryRowContext(ctx, q).Scan(&minID); err != nil {
		return 0, fmt.Errorf("allocating provisional id: %w", err)
	}
	if !minID.Valid {
		return -1, nil
	}
	return minID.Int64 - 1, nil
}
