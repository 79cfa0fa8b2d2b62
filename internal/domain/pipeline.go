// Package domain holds the feedline registry entities and their
// validation rules. Entities are persisted by internal/repo and carry
// no behavior beyond validation and state transitions.
package domain

import (
	"errors"
	"strings"
	"time"
)

// Pipeline is a registered preprocessing pipeline. The spec document is
// stored verbatim as canonical JSON; ContentSHA256 is the digest of that
// canonical form so identical specs can be detected across registrations.
type Pipeline struct {
	ID            string
	ProjectID     string
	Name          string
	Description   string
	SpecJSON      []byte
	ContentSHA256 string
	CreatedAt     time.Time
	CreatedBy     string
}

func (p Pipeline) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("pipeline id is required")
	}
	if strings.TrimSpace(p.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("pipeline name is required")
	}
	if len(p.SpecJSON) == 0 {
		return errors.New("pipeline spec is required")
	}
	if strings.TrimSpace(p.ContentSHA256) == "" {
		return errors.New("content sha256 is required")
	}
	return nil
}
