package remote

import (
	"fmt"

	"github.com/hashicorp/go-version"
)

// VersionRange is an inclusive [Min, Max] range of protocol versions.
type VersionRange struct {
	Min string
	Max string
}

// Check reports an error unless v lies inside the range.
func (r VersionRange) Check(v string) error {
	want, err := version.NewVersion(v)
	if err != nil {
		return fmt.Errorf("parsing protocol version %q: %w", v, err)
	}

	constraint, err := version.NewConstraint(fmt.Sprintf(">= %s, <= %s", r.Min, r.Max))
	if err != nil {
		return fmt.Errorf("parsing version range [%s, %s]: %w", r.Min, r.Max, err)
	}

	if !constraint.Check(want) {
		return fmt.Errorf("protocol version %s outside supported range [%s, %s]", v, r.Min, r.Max)
	}

	return nil
}

func (r VersionRange) String() string {
	return fmt.Sprintf("[%s, %s]", r.Min, r.Max)
}
