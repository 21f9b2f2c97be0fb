package speedprobe

import "fmt"

// Grade tells how a download rate compares to the reference capacity.
type Grade int

// Grades from best to worst.
const (
	GradeExcellent Grade = iota
	GradeGood
	GradeBelowExpected
)

// Thresholds on the ratio between measured and reference rate.
const (
	excellentRatio = 0.8
	goodRatio      = 0.5
)

func (g Grade) String() string {
	switch g {
	case GradeExcellent:
		return "excellent"
	case GradeGood:
		return "good"
	case GradeBelowExpected:
		return "below expected"
	}
	return fmt.Sprintf("grade(%d)", int(g))
}

// MarshalText implements encoding.TextMarshaler.
func (g Grade) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// Classify grades downloadMbps against referenceMbps. The boolean is
// false when referenceMbps is not positive, meaning there is no reference
// capacity and hence no grade.
func Classify(downloadMbps, referenceMbps float64) (Grade, bool) {
	if !(referenceMbps > 0) {
		return 0, false
	}
	ratio := downloadMbps / referenceMbps
	switch {
	case ratio >= excellentRatio:
		return GradeExcellent, true
	case ratio >= goodRatio:
		return GradeGood, true
	default:
		return GradeBelowExpected, true
	}
}
