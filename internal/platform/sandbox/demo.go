// Package sandbox provides demo appointments for development environments:
// the three fixed records the server starts with, and a reproducible
// generator of synthetic intake submissions for load and UI testing.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/ehr/intake/internal/domain/appointment"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

// DemoAppointments returns fresh copies of the demo records with ids 1 to 3.
func DemoAppointments() []*appointment.Appointment {
	return []*appointment.Appointment{
		{
			ID:                       "1",
			FullName:                 "Maria Silva Santos",
			BirthDate:                "1985-03-15",
			Gender:                   appointment.GenderFemale,
			Document:                 "123.456.789-00",
			Phone:                    "(11) 99999-1234",
			Email:                    "maria.silva@email.com",
			ChiefComplaint:           "Frequent headaches and dizziness",
			MedicalHistory:           "Hypertension",
			Allergies:                "Penicillin",
			Medications:              "Losartan 50mg",
			InsuranceProvider:        "Unimed",
			InsuranceNumber:          "123456789",
			RequiresAuthorization:    true,
			Specialty:                "Neurology",
			PreferredDoctor:          "Dr. João Oliveira",
			AppointmentDate:          "2024-01-20",
			AppointmentTime:          "14:30",
			AppointmentType:          appointment.TypeInPerson,
			EmergencyContactName:     "José Silva",
			EmergencyContactPhone:    "(11) 88888-5678",
			EmergencyContactRelation: "Spouse",
			Notes:                    "Patient reports symptoms worsening over the last few days",
			CreatedAt:                ts("2024-01-10T10:00:00Z"),
			UpdatedAt:                ts("2024-01-10T10:00:00Z"),
		},
		{
			ID:                       "2",
			FullName:                 "Carlos Eduardo Lima",
			BirthDate:                "1978-07-22",
			Gender:                   appointment.GenderMale,
			Document:                 "987.654.321-00",
			Phone:                    "(11) 97777-4321",
			Email:                    "carlos.lima@email.com",
			ChiefComplaint:           "Routine annual check-up",
			MedicalHistory:           "Type 2 diabetes",
			Allergies:                "None",
			Medications:              "Metformin 850mg",
			InsuranceProvider:        "Bradesco Saúde",
			InsuranceNumber:          "987654321",
			Specialty:                "General Practice",
			PreferredDoctor:          "Dr. Ana Costa",
			AppointmentDate:          "2024-01-25",
			AppointmentTime:          "09:00",
			AppointmentType:          appointment.TypeInPerson,
			EmergencyContactName:     "Fernanda Lima",
			EmergencyContactPhone:    "(11) 86666-9876",
			EmergencyContactRelation: "Wife",
			Notes:                    "Blood glucose well controlled",
			CreatedAt:                ts("2024-01-12T14:30:00Z"),
			UpdatedAt:                ts("2024-01-12T14:30:00Z"),
		},
		{
			ID:                       "3",
			FullName:                 "Ana Paula Rodrigues",
			BirthDate:                "1992-11-08",
			Gender:                   appointment.GenderFemale,
			Document:                 "456.789.123-00",
			Phone:                    "(11) 95555-6789",
			Email:                    "ana.rodrigues@email.com",
			ChiefComplaint:           "Abdominal pain and nausea",
			MedicalHistory:           "Chronic gastritis",
			Allergies:                "Ibuprofen",
			Medications:              "Omeprazole 20mg",
			InsuranceProvider:        "SulAmérica",
			InsuranceNumber:          "456789123",
			Specialty:                "Gastroenterology",
			PreferredDoctor:          "Dr. Roberto Mendes",
			AppointmentDate:          "2024-01-18",
			AppointmentTime:          "16:00",
			AppointmentType:          appointment.TypeTeleconsultation,
			EmergencyContactName:     "Pedro Rodrigues",
			EmergencyContactPhone:    "(11) 84444-3210",
			EmergencyContactRelation: "Father",
			Notes:                    "Symptoms worse after meals",
			CreatedAt:                ts("2024-01-14T09:15:00Z"),
			UpdatedAt:                ts("2024-01-14T09:15:00Z"),
		},
	}
}

// SeedDemo loads the demo records into a store that has never issued an
// id. seeded is false when the store was already in use, so running it on
// every start is harmless.
func SeedDemo(ctx context.Context, store appointment.Seeder) (seeded bool, err error) {
	seeded, err = store.Seed(ctx, DemoAppointments()...)
	if err != nil {
		return false, fmt.Errorf("seed demo appointments: %w", err)
	}
	return seeded, nil
}
