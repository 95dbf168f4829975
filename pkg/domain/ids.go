// Package domain holds the typed identifiers shared across the engine.
//
// IDs are distinct named types over uuid.UUID so a TenantID can never be
// passed where an ActorID is expected. Parsing happens once at trust
// boundaries (HTTP, tokens); everything past the boundary works with the
// typed values.
package domain

import (
	"github.com/google/uuid"

	dErrors "orthoplus/pkg/domain-errors"
)

// TenantID identifies a clinic. Module state is partitioned by tenant and
// never shared across tenants.
type TenantID uuid.UUID

// ActorID identifies the admin user performing a toggle.
type ActorID uuid.UUID

func (t TenantID) String() string { return uuid.UUID(t).String() }
func (t TenantID) IsNil() bool    { return uuid.UUID(t) == uuid.Nil }

// MarshalText renders the ID in canonical UUID form. Named types do not
// inherit uuid.UUID's marshaling, so without this JSON encoding would emit
// the raw byte array.
func (t TenantID) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TenantID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*t = TenantID(u)
	return nil
}

func (a ActorID) String() string { return uuid.UUID(a).String() }
func (a ActorID) IsNil() bool    { return uuid.UUID(a) == uuid.Nil }

func (a ActorID) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *ActorID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*a = ActorID(u)
	return nil
}

// ParseTenantID parses a tenant ID from its string form.
// Rejects empty strings, malformed UUIDs, and the nil UUID.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant_id")
	if err != nil {
		return TenantID{}, err
	}
	return TenantID(u), nil
}

// ParseActorID parses an actor ID from its string form.
func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID(s, "actor_id")
	if err != nil {
		return ActorID{}, err
	}
	return ActorID(u), nil
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" must not be the nil UUID")
	}
	return u, nil
}
