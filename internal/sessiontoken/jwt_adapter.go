package sessiontoken

import (
	"orthoplus/internal/platform/middleware"
	id "orthoplus/pkg/domain"
)

// Adapter bridges the token service to the middleware's SessionValidator
// interface, converting string claims into typed IDs on the way through.
type Adapter struct {
	service *Service
}

func NewAdapter(service *Service) *Adapter {
	return &Adapter{service: service}
}

func (a *Adapter) ValidateToken(tokenString string) (*middleware.SessionClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	tenantID, err := id.ParseTenantID(claims.TenantID)
	if err != nil {
		return nil, err
	}
	actorID, err := id.ParseActorID(claims.ActorID)
	if err != nil {
		return nil, err
	}

	return &middleware.SessionClaims{
		TenantID: tenantID,
		ActorID:  actorID,
	}, nil
}
