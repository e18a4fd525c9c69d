package appointment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore is the durable appointment store backed by PostgreSQL. IDs come
// from a sequence, so deleted IDs are never handed out again.
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

var _ Repository = (*PGStore)(nil)
var _ Seeder = (*PGStore)(nil)

const apptCols = `id, full_name, birth_date, gender, document, phone, email,
	chief_complaint, medical_history, allergies, medications,
	insurance_provider, insurance_number, requires_authorization,
	specialty, preferred_doctor, appointment_date, appointment_time, appointment_type,
	emergency_contact_name, emergency_contact_phone, emergency_contact_relation,
	notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var id int64
	err := row.Scan(&id, &a.FullName, &a.BirthDate, &a.Gender, &a.Document, &a.Phone, &a.Email,
		&a.ChiefComplaint, &a.MedicalHistory, &a.Allergies, &a.Medications,
		&a.InsuranceProvider, &a.InsuranceNumber, &a.RequiresAuthorization,
		&a.Specialty, &a.PreferredDoctor, &a.AppointmentDate, &a.AppointmentTime, &a.AppointmentType,
		&a.EmergencyContactName, &a.EmergencyContactPhone, &a.EmergencyContactRelation,
		&a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ID = strconv.FormatInt(id, 10)
	return &a, nil
}

// parsePGID converts an external id to the numeric key. ok is false for ids
// this store can never have issued.
func parsePGID(id string) (int64, bool, error) {
	if err := checkID(id); err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, false, nil
	}
	return n, true, nil
}

func (r *PGStore) List(ctx context.Context) ([]*Appointment, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+apptCols+` FROM appointment
		ORDER BY appointment_date, appointment_time, id`)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	items := []*Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return items, nil
}

func (r *PGStore) Create(ctx context.Context, in Input) (*Appointment, error) {
	a, err := scanAppointment(r.pool.QueryRow(ctx, `
		INSERT INTO appointment (full_name, birth_date, gender, document, phone, email,
			chief_complaint, medical_history, allergies, medications,
			insurance_provider, insurance_number, requires_authorization,
			specialty, preferred_doctor, appointment_date, appointment_time, appointment_type,
			emergency_contact_name, emergency_contact_phone, emergency_contact_relation, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		RETURNING `+apptCols,
		in.FullName, in.BirthDate, in.Gender, in.Document, in.Phone, in.Email,
		in.ChiefComplaint, in.MedicalHistory, in.Allergies, in.Medications,
		in.InsuranceProvider, in.InsuranceNumber, in.RequiresAuthorization,
		in.Specialty, in.PreferredDoctor, in.AppointmentDate, in.AppointmentTime, in.AppointmentType,
		in.EmergencyContactName, in.EmergencyContactPhone, in.EmergencyContactRelation, in.Notes))
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return a, nil
}

func (r *PGStore) Update(ctx context.Context, id string, p Patch) (*Appointment, bool, error) {
	key, ok, err := parsePGID(id)
	if err != nil || !ok {
		return nil, false, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := scanAppointment(tx.QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1 FOR UPDATE`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load appointment: %w", err)
	}

	p.Apply(a)
	a, err = scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointment SET full_name=$2, birth_date=$3, gender=$4, document=$5, phone=$6, email=$7,
			chief_complaint=$8, medical_history=$9, allergies=$10, medications=$11,
			insurance_provider=$12, insurance_number=$13, requires_authorization=$14,
			specialty=$15, preferred_doctor=$16, appointment_date=$17, appointment_time=$18,
			appointment_type=$19, emergency_contact_name=$20, emergency_contact_phone=$21,
			emergency_contact_relation=$22, notes=$23, updated_at=GREATEST(NOW(), created_at)
		WHERE id = $1
		RETURNING `+apptCols,
		key, a.FullName, a.BirthDate, a.Gender, a.Document, a.Phone, a.Email,
		a.ChiefComplaint, a.MedicalHistory, a.Allergies, a.Medications,
		a.InsuranceProvider, a.InsuranceNumber, a.RequiresAuthorization,
		a.Specialty, a.PreferredDoctor, a.AppointmentDate, a.AppointmentTime,
		a.AppointmentType, a.EmergencyContactName, a.EmergencyContactPhone,
		a.EmergencyContactRelation, a.Notes))
	if err != nil {
		return nil, false, fmt.Errorf("update appointment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit update: %w", err)
	}
	return a, true, nil
}

func (r *PGStore) Delete(ctx context.Context, id string) (bool, error) {
	key, ok, err := parsePGID(id)
	if err != nil || !ok {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointment WHERE id = $1`, key)
	if err != nil {
		return false, fmt.Errorf("delete appointment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PGStore) GetByID(ctx context.Context, id string) (*Appointment, bool, error) {
	key, ok, err := parsePGID(id)
	if err != nil || !ok {
		return nil, false, err
	}
	a, err := scanAppointment(r.pool.QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get appointment: %w", err)
	}
	return a, true, nil
}

const (
	// seedStateSQL reports whether any row exists and the last value handed
	// out by the id sequence, NULL when it has never been used.
	seedStateSQL = `SELECT EXISTS (SELECT 1 FROM appointment),
		pg_sequence_last_value(pg_get_serial_sequence('appointment', 'id')::regclass)`

	// advanceSequenceSQL moves the id sequence past every seeded id without
	// ever moving it backwards.
	advanceSequenceSQL = `SELECT setval(pg_get_serial_sequence('appointment', 'id'),
		GREATEST(
			(SELECT COALESCE(MAX(id), 0) FROM appointment),
			COALESCE(pg_sequence_last_value(pg_get_serial_sequence('appointment', 'id')::regclass), 0),
			1))`
)

// canSeed reports whether a table in the given state has never issued an id.
func canSeed(hasRows bool, lastIssued *int64) bool {
	return !hasRows && lastIssued == nil
}

// Seed inserts records with explicit IDs into a table that has never held a
// row, then moves the id sequence past the highest seeded value. Once any id
// has been issued, by a create or an earlier seed, Seed does nothing.
func (r *PGStore) Seed(ctx context.Context, records ...*Appointment) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `LOCK TABLE appointment IN EXCLUSIVE MODE`); err != nil {
		return false, fmt.Errorf("lock appointment table: %w", err)
	}
	var (
		hasRows    bool
		lastIssued *int64
	)
	if err := tx.QueryRow(ctx, seedStateSQL).Scan(&hasRows, &lastIssued); err != nil {
		return false, fmt.Errorf("read seed state: %w", err)
	}
	if !canSeed(hasRows, lastIssued) || len(records) == 0 {
		return false, nil
	}

	if err := seedRows(ctx, tx, records); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, advanceSequenceSQL); err != nil {
		return false, fmt.Errorf("advance appointment sequence: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit seed: %w", err)
	}
	return true, nil
}

func seedRows(ctx context.Context, q queryable, records []*Appointment) error {
	for _, a := range records {
		key, ok, err := parsePGID(a.ID)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		if !ok {
			return fmt.Errorf("seed: appointment id %q is not numeric", a.ID)
		}
		_, err = q.Exec(ctx, `
			INSERT INTO appointment (id, full_name, birth_date, gender, document, phone, email,
				chief_complaint, medical_history, allergies, medications,
				insurance_provider, insurance_number, requires_authorization,
				specialty, preferred_doctor, appointment_date, appointment_time, appointment_type,
				emergency_contact_name, emergency_contact_phone, emergency_contact_relation, notes,
				created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`,
			key, a.FullName, a.BirthDate, a.Gender, a.Document, a.Phone, a.Email,
			a.ChiefComplaint, a.MedicalHistory, a.Allergies, a.Medications,
			a.InsuranceProvider, a.InsuranceNumber, a.RequiresAuthorization,
			a.Specialty, a.PreferredDoctor, a.AppointmentDate, a.AppointmentTime, a.AppointmentType,
			a.EmergencyContactName, a.EmergencyContactPhone, a.EmergencyContactRelation, a.Notes,
			a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return fmt.Errorf("seed appointment %s: %w", a.ID, err)
		}
	}
	return nil
}
