package logging

// MaxLogFieldLength caps string fields in log output. Provider API errors
// can embed entire response bodies.
const MaxLogFieldLength = 1024

// Truncate shortens a string to MaxLogFieldLength, marking the cut
func Truncate(s string) string {
	if len(s) <= MaxLogFieldLength {
		return s
	}
	return s[:MaxLogFieldLength] + "..."
}
