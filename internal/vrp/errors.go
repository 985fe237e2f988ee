package vrp

import "fmt"

// InputError marks a problem that cannot be built because the caller sent
// bad data. Handlers map it to a 400.
type InputError struct {
	Field string
	Msg   string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// InfeasibleError marks a well-formed problem that no assignment can
// satisfy, with a reason a dispatcher can act on.
type InfeasibleError struct {
	Reason string
}

func (e *InfeasibleError) Error() string { return e.Reason }
