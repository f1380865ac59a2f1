// Package marks serves mark entry for faculty and result views for
// students, deriving grades and semester SGPA from stored totals.
package marks

// Grade maps a total score to its letter grade.
func Grade(total float64) string {
	switch {
	case total >= 90:
		return "A+"
	case total >= 80:
		return "A"
	case total >= 70:
		return "B+"
	case total >= 60:
		return "B"
	case total >= 50:
		return "C"
	default:
		return "F"
	}
}

// GradePoints maps a letter grade to grade points.
func GradePoints(grade string) float64 {
	switch grade {
	case "A+":
		return 10
	case "A":
		return 9
	case "B+":
		return 8
	case "B":
		return 7
	case "C":
		return 6
	}
	return 0
}

// DefaultCredits applies when a subject document is missing or carries no
// credit value.
const DefaultCredits = 3

// SGPA computes the credit-weighted grade point average. Zero total
// credits yields 0.
func SGPA(points, credits []float64) float64 {
	var sumPoints, sumCredits float64
	for i := range points {
		c := credits[i]
		if c <= 0 {
			c = DefaultCredits
		}
		sumPoints += points[i] * c
		sumCredits += c
	}
	if sumCredits == 0 {
		return 0
	}
	return sumPoints / sumCredits
}
