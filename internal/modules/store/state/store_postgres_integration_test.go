//go:build integration

package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"orthoplus/internal/modules/models"
	id "orthoplus/pkg/domain"
	"orthoplus/pkg/testutil/containers"
)

type PostgresStateSuite struct {
	suite.Suite
	ctx      context.Context
	pg       *containers.PostgresContainer
	store    *Postgres
	tenantID id.TenantID
	actor    id.ActorID
}

func TestPostgresStateSuite(t *testing.T) {
	suite.Run(t, new(PostgresStateSuite))
}

func (s *PostgresStateSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = NewPostgres(s.pg.DB)
}

func (s *PostgresStateSuite) SetupTest() {
	s.tenantID = id.TenantID(uuid.New())
	s.actor = id.ActorID(uuid.New())
	s.Require().NoError(s.pg.TruncateTables(s.ctx, "tenant_module_state"))
}

func (s *PostgresStateSuite) TestLoadUnknownTenantReturnsEmptySnapshot() {
	tm, err := s.store.Load(s.ctx, s.tenantID)
	s.Require().NoError(err)
	s.Equal(s.tenantID, tm.TenantID)
	s.Empty(tm.States)
}

func (s *PostgresStateSuite) TestExecutePersistsMutation() {
	now := time.Now().UTC()

	_, err := s.store.Execute(s.ctx, s.tenantID,
		func(tm *models.TenantModules) error { return nil },
		func(_ context.Context, tm *models.TenantModules) error {
			tm.ApplySubscribe(id.ModulePacientes, s.actor, now)
			tm.ApplyActivate(id.ModulePacientes, s.actor, now)
			tm.ApplySubscribe(id.ModuleAgenda, s.actor, now)
			return nil
		},
	)
	s.Require().NoError(err)

	tm, err := s.store.Load(s.ctx, s.tenantID)
	s.Require().NoError(err)
	s.True(tm.Active(id.ModulePacientes))
	s.Require().NotNil(tm.States[id.ModulePacientes].ActivatedAt)
	s.True(tm.Subscribed(id.ModuleAgenda))
	s.False(tm.Active(id.ModuleAgenda))
}

func (s *PostgresStateSuite) TestValidateErrorRollsBack() {
	boom := models.RejectionError{Reason: models.ReasonNotSubscribed, Module: id.ModuleCRM}

	_, err := s.store.Execute(s.ctx, s.tenantID,
		func(tm *models.TenantModules) error { return &boom },
		func(_ context.Context, tm *models.TenantModules) error {
			s.FailNow("mutate must not run after a validation failure")
			return nil
		},
	)

	var rejection *models.RejectionError
	s.Require().ErrorAs(err, &rejection)
	s.Equal(models.ReasonNotSubscribed, rejection.Reason)

	tm, err := s.store.Load(s.ctx, s.tenantID)
	s.Require().NoError(err)
	s.Empty(tm.States)
}

func (s *PostgresStateSuite) TestMutateErrorRollsBack() {
	now := time.Now().UTC()
	_, err := s.store.Execute(s.ctx, s.tenantID,
		func(tm *models.TenantModules) error { return nil },
		func(_ context.Context, tm *models.TenantModules) error {
			tm.ApplySubscribe(id.ModuleEstoque, s.actor, now)
			return context.Canceled
		},
	)
	s.Require().Error(err)

	tm, err := s.store.Load(s.ctx, s.tenantID)
	s.Require().NoError(err)
	s.False(tm.Subscribed(id.ModuleEstoque))
}

func (s *PostgresStateSuite) TestConcurrentExecutesSerialize() {
	const workers = 10
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(s.ctx, s.tenantID,
				func(tm *models.TenantModules) error { return nil },
				func(_ context.Context, tm *models.TenantModules) error {
					if tm.Active(id.ModulePacientes) {
						tm.ApplyDeactivate(id.ModulePacientes, s.actor, now)
					} else {
						tm.ApplySubscribe(id.ModulePacientes, s.actor, now)
						tm.ApplyActivate(id.ModulePacientes, s.actor, now)
					}
					return nil
				},
			)
			s.NoError(err)
		}()
	}
	wg.Wait()

	// Ten flips from inactive must land on inactive. The advisory lock
	// serializes the read-check-write cycles; lost updates would break this.
	tm, err := s.store.Load(s.ctx, s.tenantID)
	s.Require().NoError(err)
	s.False(tm.Active(id.ModulePacientes))
}

func (s *PostgresStateSuite) TestTenantsDoNotBlockEachOther() {
	other := id.TenantID(uuid.New())
	now := time.Now().UTC()

	release := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.store.Execute(s.ctx, s.tenantID,
			func(tm *models.TenantModules) error { return nil },
			func(_ context.Context, tm *models.TenantModules) error {
				close(started)
				<-release
				tm.ApplySubscribe(id.ModulePacientes, s.actor, now)
				return nil
			},
		)
		s.NoError(err)
	}()

	<-started

	// The other tenant's write proceeds while the first holds its lock.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.store.Execute(s.ctx, other,
			func(tm *models.TenantModules) error { return nil },
			func(_ context.Context, tm *models.TenantModules) error {
				tm.ApplySubscribe(id.ModuleAgenda, s.actor, now)
				return nil
			},
		)
		s.NoError(err)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.FailNow("write for a different tenant blocked on an unrelated lock")
	}

	close(release)
	wg.Wait()
}
