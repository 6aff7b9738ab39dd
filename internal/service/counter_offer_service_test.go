package service

import (
	"context"
	"testing"
	"time"

	"backend/internal/model"
	ws "backend/internal/websocket"
	"backend/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildCounterOfferService(
	offers *fakeOfferRepo,
	approvals *fakeApprovalRepo,
	policies *fakePolicyRepo,
	delegations *fakeDelegationRepo,
	users *fakeUserRepo,
	audit *recordingAuditRepo,
	notifier *recordingNotifier,
) CounterOfferService {
	return NewCounterOfferService(offers, approvals, policies, delegations, users, audit,
		inlineTx{}, notifier, 30*time.Minute)
}

func counteredOffer(request *model.ApprovalRequest, manager *model.User, price int64) *model.CounterOffer {
	counter := decimal.NewFromInt(price)
	return &model.CounterOffer{
		ID:            uuid.New(),
		RequestID:     request.ID,
		Request:       request,
		ManagerID:     manager.ID,
		Manager:       manager,
		CounterPrice:  counter,
		MarginPercent: counter.Sub(request.CostAtTime).Div(counter).Mul(oneHundred),
		Status:        model.CounterOfferPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestCounterOfferCreate(t *testing.T) {
	alice := testUser(model.RoleSalesperson, "alice")
	bob := testUser(model.RoleManager, "bob")
	widget := testProduct("widget", 100, 60)
	request := pendingRequest(alice, widget, 80, 2)

	var parentCalls []transitionCall
	approvals := &fakeApprovalRepo{
		findByIDWithRelFn: func(context.Context, uuid.UUID) (*model.ApprovalRequest, error) {
			return request, nil
		},
		transitionStatusFn: func(_ context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
			parentCalls = append(parentCalls, transitionCall{id: id, fromStatus: fromStatus, updates: updates})
			return true, nil
		},
	}
	var created *model.CounterOffer
	offers := &fakeOfferRepo{
		createFn: func(_ context.Context, offer *model.CounterOffer) error {
			offer.ID = uuid.New()
			offer.CreatedAt = time.Now().UTC()
			created = offer
			return nil
		},
	}
	audit := &recordingAuditRepo{}
	notifier := &recordingNotifier{}
	svc := buildCounterOfferService(offers, approvals, seededPolicyRepo(), noDelegations(),
		userDirectory(bob), audit, notifier)

	resp, err := svc.Create(context.Background(), request.ID.String(), bob.ID.String(),
		CreateCounterOfferRequest{CounterPrice: "85"})
	require.NoError(t, err)

	require.Len(t, parentCalls, 1)
	assert.Equal(t, request.ID, parentCalls[0].id)
	assert.Equal(t, model.ApprovalStatusPending, parentCalls[0].fromStatus)
	assert.Equal(t, map[string]interface{}{"status": model.ApprovalStatusCountered}, parentCalls[0].updates)

	require.NotNil(t, created)
	assert.Equal(t, model.CounterOfferPending, created.Status)

	assert.Equal(t, model.CounterOfferPending, resp.Status)
	assert.Equal(t, "85", resp.CounterPrice)
	// (85 - 60) / 85 * 100
	assert.Equal(t, "29.41", resp.MarginPercent)
	assert.Equal(t, "bob", resp.Manager)

	assert.Equal(t, []string{model.ActionCreateCounterOffer}, audit.actions())

	sent := notifier.sentEvents()
	require.Len(t, sent, 1)
	assert.Equal(t, alice.ID, sent[0].userID)
	assert.Equal(t, ws.EventApprovalCountered, sent[0].event)
}

func TestCounterOfferCreateGuards(t *testing.T) {
	alice := testUser(model.RoleSalesperson, "alice")
	bob := testUser(model.RoleManager, "bob")
	widget := testProduct("widget", 100, 60)

	t.Run("batch parents cannot be countered", func(t *testing.T) {
		batch := &model.ApprovalRequest{
			ID:            uuid.New(),
			RequestType:   model.RequestTypeBatch,
			SalespersonID: alice.ID,
			Status:        model.ApprovalStatusPending,
		}
		approvals := &fakeApprovalRepo{
			findByIDWithRelFn: func(context.Context, uuid.UUID) (*model.ApprovalRequest, error) {
				return batch, nil
			},
		}
		svc := buildCounterOfferService(&fakeOfferRepo{}, approvals, seededPolicyRepo(),
			noDelegations(), userDirectory(bob), &recordingAuditRepo{}, &recordingNotifier{})

		_, err := svc.Create(context.Background(), batch.ID.String(), bob.ID.String(),
			CreateCounterOfferRequest{CounterPrice: "85"})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})

	t.Run("cannot counter your own request", func(t *testing.T) {
		own := pendingRequest(bob, widget, 80, 2)
		approvals := &fakeApprovalRepo{
			findByIDWithRelFn: func(context.Context, uuid.UUID) (*model.ApprovalRequest, error) {
				return own, nil
			},
		}
		svc := buildCounterOfferService(&fakeOfferRepo{}, approvals, seededPolicyRepo(),
			noDelegations(), userDirectory(bob), &recordingAuditRepo{}, &recordingNotifier{})

		_, err := svc.Create(context.Background(), own.ID.String(), bob.ID.String(),
			CreateCounterOfferRequest{CounterPrice: "85"})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))
	})

	t.Run("countering at the requested price is an approval", func(t *testing.T) {
		request := pendingRequest(alice, widget, 80, 2)
		approvals := &fakeApprovalRepo{
			findByIDWithRelFn: func(context.Context, uuid.UUID) (*model.ApprovalRequest, error) {
				return request, nil
			},
		}
		svc := buildCounterOfferService(&fakeOfferRepo{}, approvals, seededPolicyRepo(),
			noDelegations(), userDirectory(bob), &recordingAuditRepo{}, &recordingNotifier{})

		_, err := svc.Create(context.Background(), request.ID.String(), bob.ID.String(),
			CreateCounterOfferRequest{CounterPrice: "80"})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})

	t.Run("counter price must be positive", func(t *testing.T) {
		svc := buildCounterOfferService(&fakeOfferRepo{}, &fakeApprovalRepo{}, seededPolicyRepo(),
			noDelegations(), userDirectory(bob), &recordingAuditRepo{}, &recordingNotifier{})

		_, err := svc.Create(context.Background(), uuid.NewString(), bob.ID.String(),
			CreateCounterOfferRequest{CounterPrice: "0"})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})

	t.Run("rank gate applies to countering", func(t *testing.T) {
		request := pendingRequest(alice, widget, 40, 3)
		approvals := &fakeApprovalRepo{
			findByIDWithRelFn: func(context.Context, uuid.UUID) (*model.ApprovalRequest, error) {
				return request, nil
			},
		}
		svc := buildCounterOfferService(&fakeOfferRepo{}, approvals, seededPolicyRepo(),
			noDelegations(), userDirectory(bob), &recordingAuditRepo{}, &recordingNotifier{})

		_, err := svc.Create(context.Background(), request.ID.String(), bob.ID.String(),
			CreateCounterOfferRequest{CounterPrice: "70"})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))
	})

	t.Run("request already responded", func(t *testing.T) {
		request := pendingRequest(alice, widget, 80, 2)
		approved := *request
		approved.Status = model.ApprovalStatusApproved
		approvals := &fakeApprovalRepo{
			findByIDWithRelFn: func(context.Context, uuid.UUID) (*model.ApprovalRequest, error) {
				return request, nil
			},
			transitionStatusFn: func(context.Context, uuid.UUID, string, map[string]interface{}) (bool, error) {
				return false, nil
			},
			findByIDFn: func(context.Context, uuid.UUID) (*model.ApprovalRequest, error) {
				return &approved, nil
			},
		}
		svc := buildCounterOfferService(&fakeOfferRepo{}, approvals, seededPolicyRepo(),
			noDelegations(), userDirectory(bob), &recordingAuditRepo{}, &recordingNotifier{})

		_, err := svc.Create(context.Background(), request.ID.String(), bob.ID.String(),
			CreateCounterOfferRequest{CounterPrice: "85"})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeInvalidState, apperrors.CodeOf(err))
		assert.Contains(t, err.Error(), "already APPROVED")
	})
}

func TestCounterOfferAccept(t *testing.T) {
	alice := testUser(model.RoleSalesperson, "alice")
	bob := testUser(model.RoleManager, "bob")
	widget := testProduct("widget", 100, 60)
	request := pendingRequest(alice, widget, 80, 2)
	request.Status = model.ApprovalStatusCountered
	offer := counteredOffer(request, bob, 85)

	var offerCalls, parentCalls []transitionCall
	offers := &fakeOfferRepo{
		findByIDWithRelFn: func(_ context.Context, id uuid.UUID) (*model.CounterOffer, error) {
			require.Equal(t, offer.ID, id)
			return offer, nil
		},
		transitionStatusFn: func(_ context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
			offerCalls = append(offerCalls, transitionCall{id: id, fromStatus: fromStatus, updates: updates})
			return true, nil
		},
	}
	approvals := &fakeApprovalRepo{
		transitionStatusFn: func(_ context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
			parentCalls = append(parentCalls, transitionCall{id: id, fromStatus: fromStatus, updates: updates})
			return true, nil
		},
	}
	audit := &recordingAuditRepo{}
	notifier := &recordingNotifier{}
	svc := buildCounterOfferService(offers, approvals, seededPolicyRepo(), noDelegations(),
		&fakeUserRepo{}, audit, notifier)

	resp, err := svc.Accept(context.Background(), offer.ID.String(), alice.ID.String())
	require.NoError(t, err)

	require.Len(t, offerCalls, 1)
	assert.Equal(t, model.CounterOfferPending, offerCalls[0].fromStatus)
	assert.Equal(t, model.CounterOfferAccepted, offerCalls[0].updates["status"])

	require.Len(t, parentCalls, 1)
	assert.Equal(t, request.ID, parentCalls[0].id)
	assert.Equal(t, model.ApprovalStatusCountered, parentCalls[0].fromStatus)
	assert.Equal(t, model.ApprovalStatusApproved, parentCalls[0].updates["status"])
	assert.Equal(t, false, parentCalls[0].updates["token_used"])
	approvedPrice, ok := parentCalls[0].updates["approved_price"].(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, approvedPrice.Equal(offer.CounterPrice))
	token, ok := parentCalls[0].updates["approval_token"].(string)
	require.True(t, ok)
	assert.Len(t, token, 64)

	assert.Equal(t, model.CounterOfferAccepted, resp.Status)
	assert.Equal(t, token, resp.Token)
	require.NotNil(t, resp.ApprovedPrice)
	assert.Equal(t, "85", *resp.ApprovedPrice)
	require.NotNil(t, resp.TokenExpiresAt)

	assert.Equal(t, []string{model.ActionAcceptCounterOffer}, audit.actions())

	sent := notifier.sentEvents()
	require.Len(t, sent, 1)
	assert.Equal(t, bob.ID, sent[0].userID)
	assert.Equal(t, ws.EventCounterAccepted, sent[0].event)
}

func TestCounterOfferAcceptGuards(t *testing.T) {
	alice := testUser(model.RoleSalesperson, "alice")
	bob := testUser(model.RoleManager, "bob")
	mallory := testUser(model.RoleSalesperson, "mallory")
	widget := testProduct("widget", 100, 60)
	request := pendingRequest(alice, widget, 80, 2)
	request.Status = model.ApprovalStatusCountered
	offer := counteredOffer(request, bob, 85)

	t.Run("only the requesting salesperson responds", func(t *testing.T) {
		offers := &fakeOfferRepo{
			findByIDWithRelFn: func(context.Context, uuid.UUID) (*model.CounterOffer, error) {
				return offer, nil
			},
		}
		svc := buildCounterOfferService(offers, &fakeApprovalRepo{}, seededPolicyRepo(),
			noDelegations(), &fakeUserRepo{}, &recordingAuditRepo{}, &recordingNotifier{})

		_, err := svc.Accept(context.Background(), offer.ID.String(), mallory.ID.String())
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeForbidden, apperrors.CodeOf(err))
	})

	t.Run("offer already responded", func(t *testing.T) {
		declined := *offer
		declined.Status = model.CounterOfferDeclined
		offers := &fakeOfferRepo{
			findByIDWithRelFn: func(context.Context, uuid.UUID) (*model.CounterOffer, error) {
				return offer, nil
			},
			transitionStatusFn: func(context.Context, uuid.UUID, string, map[string]interface{}) (bool, error) {
				return false, nil
			},
			findByIDFn: func(context.Context, uuid.UUID) (*model.CounterOffer, error) {
				return &declined, nil
			},
		}
		svc := buildCounterOfferService(offers, &fakeApprovalRepo{}, seededPolicyRepo(),
			noDelegations(), &fakeUserRepo{}, &recordingAuditRepo{}, &recordingNotifier{})

		_, err := svc.Accept(context.Background(), offer.ID.String(), alice.ID.String())
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeInvalidState, apperrors.CodeOf(err))
		assert.Contains(t, err.Error(), "already DECLINED")
	})

	t.Run("request left the countered state", func(t *testing.T) {
		offers := &fakeOfferRepo{
			findByIDWithRelFn: func(context.Context, uuid.UUID) (*model.CounterOffer, error) {
				return offer, nil
			},
			transitionStatusFn: func(context.Context, uuid.UUID, string, map[string]interface{}) (bool, error) {
				return true, nil
			},
		}
		approvals := &fakeApprovalRepo{
			transitionStatusFn: func(context.Context, uuid.UUID, string, map[string]interface{}) (bool, error) {
				return false, nil
			},
		}
		svc := buildCounterOfferService(offers, approvals, seededPolicyRepo(),
			noDelegations(), &fakeUserRepo{}, &recordingAuditRepo{}, &recordingNotifier{})

		_, err := svc.Accept(context.Background(), offer.ID.String(), alice.ID.String())
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeInvalidState, apperrors.CodeOf(err))
	})
}

func TestCounterOfferDecline(t *testing.T) {
	alice := testUser(model.RoleSalesperson, "alice")
	bob := testUser(model.RoleManager, "bob")
	widget := testProduct("widget", 100, 60)
	request := pendingRequest(alice, widget, 80, 2)
	request.Status = model.ApprovalStatusCountered
	offer := counteredOffer(request, bob, 85)

	var offerCalls, parentCalls []transitionCall
	offers := &fakeOfferRepo{
		findByIDWithRelFn: func(context.Context, uuid.UUID) (*model.CounterOffer, error) {
			return offer, nil
		},
		transitionStatusFn: func(_ context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
			offerCalls = append(offerCalls, transitionCall{id: id, fromStatus: fromStatus, updates: updates})
			return true, nil
		},
	}
	approvals := &fakeApprovalRepo{
		transitionStatusFn: func(_ context.Context, id uuid.UUID, fromStatus string, updates map[string]interface{}) (bool, error) {
			parentCalls = append(parentCalls, transitionCall{id: id, fromStatus: fromStatus, updates: updates})
			return true, nil
		},
	}
	audit := &recordingAuditRepo{}
	notifier := &recordingNotifier{}
	svc := buildCounterOfferService(offers, approvals, seededPolicyRepo(), noDelegations(),
		&fakeUserRepo{}, audit, notifier)

	resp, err := svc.Decline(context.Background(), offer.ID.String(), alice.ID.String())
	require.NoError(t, err)

	require.Len(t, offerCalls, 1)
	assert.Equal(t, model.CounterOfferDeclined, offerCalls[0].updates["status"])

	// The request goes back in the queue with nothing but its status
	// touched: the tier timeout still counts from the original creation.
	require.Len(t, parentCalls, 1)
	assert.Equal(t, model.ApprovalStatusCountered, parentCalls[0].fromStatus)
	assert.Equal(t, map[string]interface{}{"status": model.ApprovalStatusPending}, parentCalls[0].updates)

	assert.Equal(t, model.CounterOfferDeclined, resp.Status)
	assert.Empty(t, resp.Token)
	assert.Nil(t, resp.ApprovedPrice)

	assert.Equal(t, []string{model.ActionDeclineCounterOffer}, audit.actions())

	sent := notifier.sentEvents()
	require.Len(t, sent, 1)
	assert.Equal(t, bob.ID, sent[0].userID)
	assert.Equal(t, ws.EventCounterDeclined, sent[0].event)
}

func TestCounterOfferListForRequest(t *testing.T) {
	alice := testUser(model.RoleSalesperson, "alice")
	bob := testUser(model.RoleManager, "bob")
	widget := testProduct("widget", 100, 60)
	request := pendingRequest(alice, widget, 80, 2)

	offers := &fakeOfferRepo{
		listByRequestFn: func(_ context.Context, requestID uuid.UUID) ([]model.CounterOffer, error) {
			require.Equal(t, request.ID, requestID)
			return []model.CounterOffer{*counteredOffer(request, bob, 85), *counteredOffer(request, bob, 88)}, nil
		},
	}
	svc := buildCounterOfferService(offers, &fakeApprovalRepo{}, seededPolicyRepo(),
		noDelegations(), &fakeUserRepo{}, &recordingAuditRepo{}, &recordingNotifier{})

	res, err := svc.ListForRequest(context.Background(), request.ID.String())
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "85", res[0].CounterPrice)
	assert.Equal(t, "88", res[1].CounterPrice)

	_, err = svc.ListForRequest(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}
