package gates

import (
	"errors"
	"fmt"
)

// ErrMalformedArtifact is wrapped by every MalformedArtifactError.
var ErrMalformedArtifact = errors.New("malformed artifact")

// MalformedArtifactError means the artifact could not be parsed at all, so no
// report was produced.
type MalformedArtifactError struct {
	Type   ArtifactType
	Reason string
}

func (e *MalformedArtifactError) Error() string {
	return fmt.Sprintf("malformed %s artifact: %s", e.Type, e.Reason)
}

func (e *MalformedArtifactError) Unwrap() error { return ErrMalformedArtifact }
