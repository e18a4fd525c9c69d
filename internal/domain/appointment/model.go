package appointment

import (
	"time"
)

// Gender is the patient's declared sex on the intake form.
type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
	GenderOther  Gender = "Other"
)

// Type is how the consultation takes place.
type Type string

const (
	TypeInPerson         Type = "InPerson"
	TypeTeleconsultation Type = "Teleconsultation"
)

// Appointment maps to the appointment table and is the single intake record.
type Appointment struct {
	ID                       string    `db:"id" json:"id"`
	FullName                 string    `db:"full_name" json:"full_name"`
	BirthDate                string    `db:"birth_date" json:"birth_date"`
	Gender                   Gender    `db:"gender" json:"gender"`
	Document                 string    `db:"document" json:"document"`
	Phone                    string    `db:"phone" json:"phone"`
	Email                    string    `db:"email" json:"email"`
	ChiefComplaint           string    `db:"chief_complaint" json:"chief_complaint"`
	MedicalHistory           string    `db:"medical_history" json:"medical_history,omitempty"`
	Allergies                string    `db:"allergies" json:"allergies,omitempty"`
	Medications              string    `db:"medications" json:"medications,omitempty"`
	InsuranceProvider        string    `db:"insurance_provider" json:"insurance_provider,omitempty"`
	InsuranceNumber          string    `db:"insurance_number" json:"insurance_number,omitempty"`
	RequiresAuthorization    bool      `db:"requires_authorization" json:"requires_authorization"`
	Specialty                string    `db:"specialty" json:"specialty"`
	PreferredDoctor          string    `db:"preferred_doctor" json:"preferred_doctor,omitempty"`
	AppointmentDate          string    `db:"appointment_date" json:"appointment_date"`
	AppointmentTime          string    `db:"appointment_time" json:"appointment_time"`
	AppointmentType          Type      `db:"appointment_type" json:"appointment_type"`
	EmergencyContactName     string    `db:"emergency_contact_name" json:"emergency_contact_name"`
	EmergencyContactPhone    string    `db:"emergency_contact_phone" json:"emergency_contact_phone"`
	EmergencyContactRelation string    `db:"emergency_contact_relation" json:"emergency_contact_relation"`
	Notes                    string    `db:"notes" json:"notes,omitempty"`
	CreatedAt                time.Time `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time `db:"updated_at" json:"updated_at"`
}

// Input is an appointment as submitted from the intake form, without the
// store-owned fields.
type Input struct {
	FullName                 string `json:"full_name" validate:"required"`
	BirthDate                string `json:"birth_date" validate:"required"`
	Gender                   Gender `json:"gender" validate:"oneof=Male Female Other"`
	Document                 string `json:"document" validate:"required"`
	Phone                    string `json:"phone" validate:"required"`
	Email                    string `json:"email" validate:"required,email"`
	ChiefComplaint           string `json:"chief_complaint" validate:"required"`
	MedicalHistory           string `json:"medical_history"`
	Allergies                string `json:"allergies"`
	Medications              string `json:"medications"`
	InsuranceProvider        string `json:"insurance_provider"`
	InsuranceNumber          string `json:"insurance_number"`
	RequiresAuthorization    bool   `json:"requires_authorization"`
	Specialty                string `json:"specialty" validate:"required,specialty"`
	PreferredDoctor          string `json:"preferred_doctor"`
	AppointmentDate          string `json:"appointment_date" validate:"required"`
	AppointmentTime          string `json:"appointment_time" validate:"required"`
	AppointmentType          Type   `json:"appointment_type" validate:"oneof=InPerson Teleconsultation"`
	EmergencyContactName     string `json:"emergency_contact_name" validate:"required"`
	EmergencyContactPhone    string `json:"emergency_contact_phone" validate:"required"`
	EmergencyContactRelation string `json:"emergency_contact_relation" validate:"required"`
	Notes                    string `json:"notes"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	FullName                 *string `json:"full_name,omitempty"`
	BirthDate                *string `json:"birth_date,omitempty"`
	Gender                   *Gender `json:"gender,omitempty"`
	Document                 *string `json:"document,omitempty"`
	Phone                    *string `json:"phone,omitempty"`
	Email                    *string `json:"email,omitempty"`
	ChiefComplaint           *string `json:"chief_complaint,omitempty"`
	MedicalHistory           *string `json:"medical_history,omitempty"`
	Allergies                *string `json:"allergies,omitempty"`
	Medications              *string `json:"medications,omitempty"`
	InsuranceProvider        *string `json:"insurance_provider,omitempty"`
	InsuranceNumber          *string `json:"insurance_number,omitempty"`
	RequiresAuthorization    *bool   `json:"requires_authorization,omitempty"`
	Specialty                *string `json:"specialty,omitempty"`
	PreferredDoctor          *string `json:"preferred_doctor,omitempty"`
	AppointmentDate          *string `json:"appointment_date,omitempty"`
	AppointmentTime          *string `json:"appointment_time,omitempty"`
	AppointmentType          *Type   `json:"appointment_type,omitempty"`
	EmergencyContactName     *string `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone    *string `json:"emergency_contact_phone,omitempty"`
	EmergencyContactRelation *string `json:"emergency_contact_relation,omitempty"`
	Notes                    *string `json:"notes,omitempty"`
}

// DefaultInput returns the values an empty intake form starts with.
func DefaultInput() Input {
	return Input{
		Gender:          GenderMale,
		AppointmentType: TypeInPerson,
	}
}

// InputFromRecord pre-populates form values from an existing record.
func InputFromRecord(a *Appointment) Input {
	return Input{
		FullName:                 a.FullName,
		BirthDate:                a.BirthDate,
		Gender:                   a.Gender,
		Document:                 a.Document,
		Phone:                    a.Phone,
		Email:                    a.Email,
		ChiefComplaint:           a.ChiefComplaint,
		MedicalHistory:           a.MedicalHistory,
		Allergies:                a.Allergies,
		Medications:              a.Medications,
		InsuranceProvider:        a.InsuranceProvider,
		InsuranceNumber:          a.InsuranceNumber,
		RequiresAuthorization:    a.RequiresAuthorization,
		Specialty:                a.Specialty,
		PreferredDoctor:          a.PreferredDoctor,
		AppointmentDate:          a.AppointmentDate,
		AppointmentTime:          a.AppointmentTime,
		AppointmentType:          a.AppointmentType,
		EmergencyContactName:     a.EmergencyContactName,
		EmergencyContactPhone:    a.EmergencyContactPhone,
		EmergencyContactRelation: a.EmergencyContactRelation,
		Notes:                    a.Notes,
	}
}

// PatchFromInput turns a full form submission into a patch that replaces
// every field.
func PatchFromInput(in Input) Patch {
	return Patch{
		FullName:                 &in.FullName,
		BirthDate:                &in.BirthDate,
		Gender:                   &in.Gender,
		Document:                 &in.Document,
		Phone:                    &in.Phone,
		Email:                    &in.Email,
		ChiefComplaint:           &in.ChiefComplaint,
		MedicalHistory:           &in.MedicalHistory,
		Allergies:                &in.Allergies,
		Medications:              &in.Medications,
		InsuranceProvider:        &in.InsuranceProvider,
		InsuranceNumber:          &in.InsuranceNumber,
		RequiresAuthorization:    &in.RequiresAuthorization,
		Specialty:                &in.Specialty,
		PreferredDoctor:          &in.PreferredDoctor,
		AppointmentDate:          &in.AppointmentDate,
		AppointmentTime:          &in.AppointmentTime,
		AppointmentType:          &in.AppointmentType,
		EmergencyContactName:     &in.EmergencyContactName,
		EmergencyContactPhone:    &in.EmergencyContactPhone,
		EmergencyContactRelation: &in.EmergencyContactRelation,
		Notes:                    &in.Notes,
	}
}

// newRecord builds a record from validated input. ID and timestamps are
// filled in by the store.
func newRecord(in Input) *Appointment {
	return &Appointment{
		FullName:                 in.FullName,
		BirthDate:                in.BirthDate,
		Gender:                   in.Gender,
		Document:                 in.Document,
		Phone:                    in.Phone,
		Email:                    in.Email,
		ChiefComplaint:           in.ChiefComplaint,
		MedicalHistory:           in.MedicalHistory,
		Allergies:                in.Allergies,
		Medications:              in.Medications,
		InsuranceProvider:        in.InsuranceProvider,
		InsuranceNumber:          in.InsuranceNumber,
		RequiresAuthorization:    in.RequiresAuthorization,
		Specialty:                in.Specialty,
		PreferredDoctor:          in.PreferredDoctor,
		AppointmentDate:          in.AppointmentDate,
		AppointmentTime:          in.AppointmentTime,
		AppointmentType:          in.AppointmentType,
		EmergencyContactName:     in.EmergencyContactName,
		EmergencyContactPhone:    in.EmergencyContactPhone,
		EmergencyContactRelation: in.EmergencyContactRelation,
		Notes:                    in.Notes,
	}
}

// Apply merges the non-nil patch fields into a. Store-owned fields are never
// touched.
func (p Patch) Apply(a *Appointment) {
	setStr(&a.FullName, p.FullName)
	setStr(&a.BirthDate, p.BirthDate)
	if p.Gender != nil {
		a.Gender = *p.Gender
	}
	setStr(&a.Document, p.Document)
	setStr(&a.Phone, p.Phone)
	setStr(&a.Email, p.Email)
	setStr(&a.ChiefComplaint, p.ChiefComplaint)
	setStr(&a.MedicalHistory, p.MedicalHistory)
	setStr(&a.Allergies, p.Allergies)
	setStr(&a.Medications, p.Medications)
	setStr(&a.InsuranceProvider, p.InsuranceProvider)
	setStr(&a.InsuranceNumber, p.InsuranceNumber)
	if p.RequiresAuthorization != nil {
		a.RequiresAuthorization = *p.RequiresAuthorization
	}
	setStr(&a.Specialty, p.Specialty)
	setStr(&a.PreferredDoctor, p.PreferredDoctor)
	setStr(&a.AppointmentDate, p.AppointmentDate)
	setStr(&a.AppointmentTime, p.AppointmentTime)
	if p.AppointmentType != nil {
		a.AppointmentType = *p.AppointmentType
	}
	setStr(&a.EmergencyContactName, p.EmergencyContactName)
	setStr(&a.EmergencyContactPhone, p.EmergencyContactPhone)
	setStr(&a.EmergencyContactRelation, p.EmergencyContactRelation)
	setStr(&a.Notes, p.Notes)
}

// IsEmpty reports whether the patch carries no fields at all.
func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// scheduledAt returns the combined appointment date and time used for
// ordering. ok is false when either part does not parse.
func (a *Appointment) scheduledAt() (time.Time, bool) {
	t, err := time.Parse("2006-01-02 15:04", a.AppointmentDate+" "+a.AppointmentTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Before reports whether a is scheduled strictly earlier than b.
func (a *Appointment) Before(b *Appointment) bool {
	ta, okA := a.scheduledAt()
	tb, okB := b.scheduledAt()
	if okA && okB {
		return ta.Before(tb)
	}
	if a.AppointmentDate != b.AppointmentDate {
		return a.AppointmentDate < b.AppointmentDate
	}
	return a.AppointmentTime < b.AppointmentTime
}

func clone(a *Appointment) *Appointment {
	c := *a
	return &c
}
