package update

import (
	"fmt"

	"github.com/dominodatalab/stevedore/internal/kubectl"
)

// NotFoundError reports that the target resource does not exist on the
// remote cluster. It is terminal: no mutation is attempted for a resource
// that was never there.
type NotFoundError struct {
	Target kubectl.Target
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found in namespace %q", e.Target.Slug(), e.Target.Namespace)
}

// MutationError reports that both mutation forms ran on the target and were
// refused. Both refusals are preserved so the operator sees the full
// picture, not just the last failure.
type MutationError struct {
	Target   kubectl.Target
	Image    string
	Primary  error
	Fallback error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("image update for %s was refused: set image: %v; strategic patch: %v",
		e.Target.Slug(), e.Primary, e.Fallback)
}
