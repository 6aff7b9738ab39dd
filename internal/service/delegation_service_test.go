package service

import (
	"context"
	"testing"
	"time"

	"backend/internal/model"
	ws "backend/internal/websocket"
	"backend/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func buildDelegationService(
	delegations *fakeDelegationRepo,
	users *fakeUserRepo,
	audit *recordingAuditRepo,
	notifier *recordingNotifier,
) DelegationService {
	return NewDelegationService(delegations, users, audit, inlineTx{}, notifier, zap.NewNop())
}

func TestDelegationCreate(t *testing.T) {
	bob := testUser(model.RoleManager, "bob")
	carol := testUser(model.RoleSalesperson, "carol")
	tomorrow := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)

	var created *model.Delegation
	delegations := &fakeDelegationRepo{
		createFn: func(_ context.Context, d *model.Delegation) error {
			d.ID = uuid.New()
			d.CreatedAt = time.Now().UTC()
			created = d
			return nil
		},
	}
	audit := &recordingAuditRepo{}
	svc := buildDelegationService(delegations, userDirectory(bob, carol), audit, &recordingNotifier{})

	resp, err := svc.Create(context.Background(), bob.ID.String(), CreateDelegationRequest{
		DelegateID: carol.ID.String(),
		ExpiresAt:  tomorrow,
		Reason:     "on leave",
	})
	require.NoError(t, err)

	require.NotNil(t, created)
	assert.True(t, created.IsActive)
	assert.Equal(t, bob.ID, created.DelegatorID)
	assert.Equal(t, carol.ID, created.DelegateID)

	assert.Equal(t, "bob", resp.Delegator)
	assert.Equal(t, "carol", resp.Delegate)
	assert.True(t, resp.IsActive)
	assert.Equal(t, "on leave", resp.Reason)

	assert.Equal(t, []string{model.ActionCreateDelegation}, audit.actions())
}

func TestDelegationCreateGuards(t *testing.T) {
	alice := testUser(model.RoleSalesperson, "alice")
	bob := testUser(model.RoleManager, "bob")
	carol := testUser(model.RoleSalesperson, "carol")
	tomorrow := time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)

	svc := buildDelegationService(&fakeDelegationRepo{}, userDirectory(alice, bob, carol),
		&recordingAuditRepo{}, &recordingNotifier{})

	tests := []struct {
		name        string
		delegatorID string
		req         CreateDelegationRequest
		wantCode    apperrors.Code
	}{
		{
			name:        "cannot delegate to yourself",
			delegatorID: bob.ID.String(),
			req:         CreateDelegationRequest{DelegateID: bob.ID.String(), ExpiresAt: tomorrow},
			wantCode:    apperrors.CodeValidation,
		},
		{
			name:        "expiry must be in the future",
			delegatorID: bob.ID.String(),
			req: CreateDelegationRequest{
				DelegateID: carol.ID.String(),
				ExpiresAt:  time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
			},
			wantCode: apperrors.CodeValidation,
		},
		{
			name:        "expiry must be RFC3339",
			delegatorID: bob.ID.String(),
			req:         CreateDelegationRequest{DelegateID: carol.ID.String(), ExpiresAt: "tomorrow"},
			wantCode:    apperrors.CodeValidation,
		},
		{
			name:        "salespeople cannot delegate",
			delegatorID: alice.ID.String(),
			req:         CreateDelegationRequest{DelegateID: carol.ID.String(), ExpiresAt: tomorrow},
			wantCode:    apperrors.CodeForbidden,
		},
		{
			name:        "unknown delegate",
			delegatorID: bob.ID.String(),
			req:         CreateDelegationRequest{DelegateID: uuid.NewString(), ExpiresAt: tomorrow},
			wantCode:    apperrors.CodeNotFound,
		},
		{
			name:        "unknown delegator",
			delegatorID: uuid.NewString(),
			req:         CreateDelegationRequest{DelegateID: carol.ID.String(), ExpiresAt: tomorrow},
			wantCode:    apperrors.CodeUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.delegatorID, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
		})
	}
}

func TestDelegationRevoke(t *testing.T) {
	bob := testUser(model.RoleManager, "bob")
	mallory := testUser(model.RoleManager, "mallory")
	admin := testUser(model.RoleAdmin, "root")
	delegation := &model.Delegation{
		ID:          uuid.New(),
		DelegatorID: bob.ID,
		DelegateID:  mallory.ID,
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
		IsActive:    true,
	}

	newSvc := func(deactivated *bool) DelegationService {
		delegations := &fakeDelegationRepo{
			findByIDFn: func(context.Context, uuid.UUID) (*model.Delegation, error) {
				return delegation, nil
			},
			deactivateFn: func(_ context.Context, id uuid.UUID) (bool, error) {
				require.Equal(t, delegation.ID, id)
				if deactivated != nil {
					*deactivated = true
				}
				return true, nil
			},
		}
		return buildDelegationService(delegations, userDirectory(bob, mallory, admin),
			&recordingAuditRepo{}, &recordingNotifier{})
	}

	t.Run("delegator revokes", func(t *testing.T) {
		var deactivated bool
		err := newSvc(&deactivated).Revoke(context.Background(), delegation.ID.String(), bob.ID.String())
		require.NoError(t, err)
		assert.True(t, deactivated)
	})

	t.Run("admin revokes on behalf", func(t *testing.T) {
		err := newSvc(nil).Revoke(context.Background(), delegation.ID.String(), admin.ID.String())
		require.NoError(t, err)
	})

	t.Run("anyone else is refused", func(t *testing.T) {
		err := newSvc(nil).Revoke(context.Background(), delegation.ID.String(), mallory.ID.String())
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))
	})

	t.Run("already inactive", func(t *testing.T) {
		delegations := &fakeDelegationRepo{
			findByIDFn: func(context.Context, uuid.UUID) (*model.Delegation, error) {
				return delegation, nil
			},
			deactivateFn: func(context.Context, uuid.UUID) (bool, error) {
				return false, nil
			},
		}
		svc := buildDelegationService(delegations, userDirectory(bob),
			&recordingAuditRepo{}, &recordingNotifier{})

		err := svc.Revoke(context.Background(), delegation.ID.String(), bob.ID.String())
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeInvalidState, apperrors.CodeOf(err))
	})
}

func TestDelegationExpireDue(t *testing.T) {
	bob := testUser(model.RoleManager, "bob")
	carol := testUser(model.RoleSalesperson, "carol")
	past := time.Now().UTC().Add(-time.Minute)

	expired := model.Delegation{
		ID: uuid.New(), DelegatorID: bob.ID, DelegateID: carol.ID,
		ExpiresAt: past, IsActive: true,
	}
	raced := model.Delegation{
		ID: uuid.New(), DelegatorID: bob.ID, DelegateID: carol.ID,
		ExpiresAt: past, IsActive: true,
	}

	delegations := &fakeDelegationRepo{
		findExpiredActiveFn: func(_ context.Context, _ time.Time, limit int) ([]model.Delegation, error) {
			assert.Equal(t, delegationSweepBatchSize, limit)
			return []model.Delegation{expired, raced}, nil
		},
		deactivateFn: func(_ context.Context, id uuid.UUID) (bool, error) {
			// The raced row was revoked by hand between scan and sweep.
			return id == expired.ID, nil
		},
	}
	audit := &recordingAuditRepo{}
	notifier := &recordingNotifier{}
	svc := buildDelegationService(delegations, &fakeUserRepo{}, audit, notifier)

	n, err := svc.ExpireDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Equal(t, []string{model.ActionDelegationExpired}, audit.actions())
	assert.Nil(t, audit.entries[0].UserID)

	// Both parties hear about the expiry.
	sent := notifier.sentEvents()
	require.Len(t, sent, 2)
	assert.Equal(t, bob.ID, sent[0].userID)
	assert.Equal(t, carol.ID, sent[1].userID)
	for _, ev := range sent {
		assert.Equal(t, ws.EventDelegationExpired, ev.event)
	}
}

func TestEffectiveRank(t *testing.T) {
	bob := testUser(model.RoleManager, "bob")
	senior := testUser(model.RoleSeniorManager, "dana")
	admin := testUser(model.RoleAdmin, "root")

	tests := []struct {
		name        string
		user        *model.User
		delegations []model.Delegation
		want        int
	}{
		{
			name: "own rank without delegations",
			user: bob,
			want: 2,
		},
		{
			name:        "raised to the delegator's rank",
			user:        bob,
			delegations: []model.Delegation{{Delegator: admin, DelegatorID: admin.ID}},
			want:        4,
		},
		{
			name:        "lower-ranked delegator changes nothing",
			user:        senior,
			delegations: []model.Delegation{{Delegator: bob, DelegatorID: bob.ID}},
			want:        3,
		},
		{
			name:        "delegation without a loaded delegator is ignored",
			user:        bob,
			delegations: []model.Delegation{{DelegatorID: admin.ID}},
			want:        2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeDelegationRepo{
				listActiveForDelegateFn: func(context.Context, uuid.UUID, time.Time) ([]model.Delegation, error) {
					return tt.delegations, nil
				},
			}
			rank, err := effectiveRank(context.Background(), repo, tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rank)
		})
	}
}
