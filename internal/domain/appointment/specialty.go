package appointment

// Specialties is the fixed list of medical specialties offered on the form.
var Specialties = []string{
	"Cardiology",
	"Dermatology",
	"Endocrinology",
	"Gastroenterology",
	"Gynecology",
	"Neurology",
	"Ophthalmology",
	"Orthopedics",
	"Pediatrics",
	"Psychiatry",
	"Urology",
	"General Practice",
}

var validSpecialties = func() map[string]bool {
	m := make(map[string]bool, len(Specialties))
	for _, s := range Specialties {
		m[s] = true
	}
	return m
}()

// IsSpecialty reports whether s is one of the offered specialties.
func IsSpecialty(s string) bool {
	return validSpecialties[s]
}
