package schedule

import "strings"

// Dump renders a schedule in the indented text notation used by the
// trace command and golden files:
//
//	enter g
//	  enter i
//	    run a
//	    barrier local/mem
//	    run b
//	  leave i
//	leave g
func Dump(sched Schedule) string {
	var b strings.Builder
	depth := 0
	for _, it := range sched.Items {
		if it.Kind == ItemLeaveLoop && depth > 0 {
			depth--
		}
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(it.String())
		b.WriteByte('\n')
		if it.Kind == ItemEnterLoop {
			depth++
		}
	}
	return b.String()
}
