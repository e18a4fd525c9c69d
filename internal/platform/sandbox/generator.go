package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/ehr/intake/internal/domain/appointment"
)

var (
	firstNamesMale   = []string{"James", "Lucas", "Rafael", "Daniel", "Miguel", "Thomas", "Bruno", "Andre"}
	firstNamesFemale = []string{"Julia", "Beatriz", "Laura", "Sofia", "Helena", "Clara", "Marina", "Alice"}
	lastNames        = []string{"Almeida", "Barros", "Carvalho", "Duarte", "Ferreira", "Gomes", "Moreira", "Teixeira"}
	complaints       = []string{
		"Persistent cough for two weeks",
		"Lower back pain",
		"Skin rash on both arms",
		"Follow-up after blood tests",
		"Recurring migraines",
		"Chest tightness during exercise",
		"Blurred vision when reading",
	}
	insurers  = []string{"", "Unimed", "Bradesco Saúde", "SulAmérica", "Amil"}
	relations = []string{"Spouse", "Mother", "Father", "Sibling", "Friend"}
)

// Generator produces valid, reproducible intake submissions.
type Generator struct {
	rng  *rand.Rand
	base time.Time
}

// NewGenerator returns a generator seeded for reproducibility. Appointment
// dates fall within 60 days after base. A zero seed picks a time-based one.
func NewGenerator(seed int64, base time.Time) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed)), base: base}
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *Generator) digits(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + g.rng.Intn(10)))
	}
	return b.String()
}

func (g *Generator) phone() string {
	return fmt.Sprintf("(11) 9%s-%s", g.digits(4), g.digits(4))
}

// Input returns one synthetic submission that passes appointment.Validate.
func (g *Generator) Input() appointment.Input {
	in := appointment.DefaultInput()

	if g.rng.Intn(2) == 0 {
		in.Gender = appointment.GenderMale
		in.FullName = g.pick(firstNamesMale)
	} else {
		in.Gender = appointment.GenderFemale
		in.FullName = g.pick(firstNamesFemale)
	}
	last := g.pick(lastNames)
	in.FullName += " " + last

	birth := time.Date(1940+g.rng.Intn(65), time.Month(1+g.rng.Intn(12)), 1+g.rng.Intn(28), 0, 0, 0, 0, time.UTC)
	in.BirthDate = birth.Format("2006-01-02")
	in.Document = fmt.Sprintf("%s.%s.%s-%s", g.digits(3), g.digits(3), g.digits(3), g.digits(2))
	in.Phone = g.phone()
	in.Email = strings.ToLower(strings.ReplaceAll(in.FullName, " ", ".")) + "@example.com"
	in.ChiefComplaint = g.pick(complaints)

	if provider := g.pick(insurers); provider != "" {
		in.InsuranceProvider = provider
		in.InsuranceNumber = g.digits(9)
		in.RequiresAuthorization = g.rng.Intn(3) == 0
	}

	in.Specialty = g.pick(appointment.Specialties)
	day := g.base.AddDate(0, 0, 1+g.rng.Intn(60))
	in.AppointmentDate = day.Format("2006-01-02")
	in.AppointmentTime = fmt.Sprintf("%02d:%02d", 8+g.rng.Intn(10), 15*g.rng.Intn(4))
	if g.rng.Intn(4) == 0 {
		in.AppointmentType = appointment.TypeTeleconsultation
	}

	in.EmergencyContactName = g.pick(firstNamesFemale) + " " + last
	in.EmergencyContactPhone = g.phone()
	in.EmergencyContactRelation = g.pick(relations)
	return in
}

// Creator is the part of the appointment service the generator submits to.
type Creator interface {
	Create(ctx context.Context, in appointment.Input) (*appointment.Appointment, error)
}

// Populate submits n synthetic appointments through svc and returns the
// created records. It stops at the first error.
func (g *Generator) Populate(ctx context.Context, svc Creator, n int) ([]*appointment.Appointment, error) {
	created := make([]*appointment.Appointment, 0, n)
	for i := 0; i < n; i++ {
		a, err := svc.Create(ctx, g.Input())
		if err != nil {
			return created, fmt.Errorf("create synthetic appointment %d: %w", i+1, err)
		}
		created = append(created, a)
	}
	return created, nil
}
