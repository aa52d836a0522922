package calendar

import "sort"

// LessDoctorID orders ids numerically when both are decimal strings
// ("9" < "10001"), lexically otherwise.
func LessDoctorID(a, b string) bool {
	if isDigits(a) && isDigits(b) {
		if len(a) != len(b) {
			return len(a) < len(b)
		}
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func SortDoctors(ds []Doctor) {
	sort.Slice(ds, func(i, j int) bool { return LessDoctorID(ds[i].ID, ds[j].ID) })
}
