package rendezvousaddr

import (
	"fmt"
	"strings"
)

// AddrError aggregates per-server echo-query failures when fewer than two
// servers succeeded. Unwrap exposes the individual sub-errors so callers
// can still errors.Is/As against a specific server's failure.
type AddrError struct {
	PerServer map[string]error
}

func (e *AddrError) Error() string {
	var b strings.Builder
	b.WriteString("rendezvousaddr: fewer than 2 servers succeeded:")
	for addr, err := range e.PerServer {
		fmt.Fprintf(&b, " %s=%v;", addr, err)
	}
	return b.String()
}

func (e *AddrError) Unwrap() []error {
	errs := make([]error, 0, len(e.PerServer))
	for _, err := range e.PerServer {
		errs = append(errs, err)
	}
	return errs
}
