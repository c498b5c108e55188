package visitors

import (
	"errors"
	"fmt"
)

// ErrStructuralMismatch is matched by every MismatchError.
var ErrStructuralMismatch = errors.New("structural mismatch")

// MismatchError reports a required construct that no recognizer found.
type MismatchError struct {
	Construct string
	Detail    string
}

func (e *MismatchError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("structural mismatch: could not find %s (%s)", e.Construct, e.Detail)
	}
	return fmt.Sprintf("structural mismatch: could not find %s", e.Construct)
}

func (e *MismatchError) Is(target error) bool { return target == ErrStructuralMismatch }
