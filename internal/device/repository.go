package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines the persistence operations the Registry needs.
type Repository interface {
	// GetByID returns ErrDeviceNotFound if the record does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	List(ctx context.Context) ([]Device, error)

	// Create returns ErrDeviceExists if the ID is taken.
	Create(ctx context.Context, device *Device) error

	// Update returns ErrDeviceNotFound if the record does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete returns ErrDeviceNotFound if the record does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository on the devices table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectDevice = `
	SELECT id, bus, category, parent_id, capabilities, properties, created_at, updated_at
	FROM devices`

// GetByID retrieves a record by its identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevice+" WHERE id = ?", id)
	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return d, nil
}

// List retrieves all records ordered by ID.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevice+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new record.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	caps, props, err := encodeDevice(d)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (id, bus, category, parent_id, capabilities, properties,
			sysfs_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Bus, d.Category, d.ParentID, caps, props, d.SysfsPath(),
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if isPrimaryKeyViolation(err) {
		return ErrDeviceExists
	}
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update replaces every mutable column of an existing record.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	caps, props, err := encodeDevice(d)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET bus = ?, category = ?, parent_id = ?, capabilities = ?, properties = ?,
			sysfs_path = ?, updated_at = ?
		WHERE id = ?`,
		d.Bus, d.Category, d.ParentID, caps, props, d.SysfsPath(), formatTime(d.UpdatedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return requireAffected(res)
}

// Delete removes a record.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                Device
		caps, props      string
		created, updated string
	)
	if err := row.Scan(&d.ID, &d.Bus, &d.Category, &d.ParentID, &caps, &props, &created, &updated); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(caps), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("decoding capabilities of %s: %w", d.ID, err)
	}
	p, err := decodeProperties(props)
	if err != nil {
		return nil, fmt.Errorf("decoding properties of %s: %w", d.ID, err)
	}
	d.Properties = p
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return &d, nil
}

func encodeDevice(d *Device) (caps, props string, err error) {
	capabilities := d.Capabilities
	if capabilities == nil {
		capabilities = []string{}
	}
	c, err := json.Marshal(capabilities)
	if err != nil {
		return "", "", fmt.Errorf("encoding capabilities: %w", err)
	}
	properties := d.Properties
	if properties == nil {
		properties = Properties{}
	}
	p, err := json.Marshal(properties)
	if err != nil {
		return "", "", fmt.Errorf("encoding properties: %w", err)
	}
	return string(c), string(p), nil
}

// decodeProperties keeps integers as int so records read back compare equal
// to the ones the classifier produced.
func decodeProperties(s string) (Properties, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	props := make(Properties, len(raw))
	for k, v := range raw {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				props[k] = int(i)
				continue
			}
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", k, err)
			}
			props[k] = f
			continue
		}
		props[k] = v
	}
	return props, nil
}

func isPrimaryKeyViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // zero time on legacy rows
	return t
}
