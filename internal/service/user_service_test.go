package service

import (
	"context"
	"testing"
	"time"

	"backend/internal/config"
	"backend/internal/model"
	"backend/pkg/apperrors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:     "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 720 * time.Hour,
	}
}

func withPassword(user *model.User, password string) *model.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	user.Password = string(hash)
	return user
}

func TestLoginIssuesTokenPair(t *testing.T) {
	bob := withPassword(testUser(model.RoleManager, "bob"), "hunter2secret")

	var saved *model.RefreshToken
	repo := &fakeUserRepo{
		getByEmailFn: func(_ context.Context, email string) (*model.User, error) {
			require.Equal(t, bob.Email, email)
			return bob, nil
		},
		saveRefreshTokenFn: func(_ context.Context, token *model.RefreshToken) error {
			saved = token
			return nil
		},
	}
	cfg := testJWTConfig()
	svc := NewUserService(repo, nil, cfg)

	resp, err := svc.Login(context.Background(), LoginUserRequest{
		Email:    bob.Email,
		Password: "hunter2secret",
	})
	require.NoError(t, err)

	parsed, err := jwt.Parse(resp.Token, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, bob.ID.String(), claims["sub"])
	assert.Equal(t, string(model.RoleManager), claims["role"])

	assert.Len(t, resp.RefreshToken, 64)
	require.NotNil(t, saved)
	assert.Equal(t, bob.ID, saved.UserID)
	assert.Equal(t, resp.RefreshToken, saved.Token)
	assert.WithinDuration(t, time.Now().Add(cfg.RefreshTTL), saved.ExpiresAt, 5*time.Second)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	bob := withPassword(testUser(model.RoleManager, "bob"), "hunter2secret")

	t.Run("wrong password", func(t *testing.T) {
		repo := &fakeUserRepo{
			getByEmailFn: func(context.Context, string) (*model.User, error) {
				return bob, nil
			},
		}
		svc := NewUserService(repo, nil, testJWTConfig())

		_, err := svc.Login(context.Background(), LoginUserRequest{Email: bob.Email, Password: "nope"})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))
		assert.Contains(t, err.Error(), "invalid email or password")
	})

	t.Run("unknown email", func(t *testing.T) {
		repo := &fakeUserRepo{
			getByEmailFn: func(context.Context, string) (*model.User, error) {
				return nil, errNotFound()
			},
		}
		svc := NewUserService(repo, nil, testJWTConfig())

		_, err := svc.Login(context.Background(), LoginUserRequest{Email: "ghost@store.test", Password: "nope"})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))
		// Same message either way; the response does not reveal which half failed.
		assert.Contains(t, err.Error(), "invalid email or password")
	})
}

func TestRefreshTokenRotation(t *testing.T) {
	bob := testUser(model.RoleManager, "bob")
	oldToken := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	stored := &model.RefreshToken{
		UserID:    bob.ID,
		Token:     oldToken,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	var deleted []string
	var saved *model.RefreshToken
	repo := userDirectory(bob)
	repo.findRefreshTokenFn = func(_ context.Context, token string) (*model.RefreshToken, error) {
		require.Equal(t, oldToken, token)
		return stored, nil
	}
	repo.deleteRefreshTokenFn = func(_ context.Context, token string) error {
		deleted = append(deleted, token)
		return nil
	}
	repo.saveRefreshTokenFn = func(_ context.Context, token *model.RefreshToken) error {
		saved = token
		return nil
	}
	svc := NewUserService(repo, nil, testJWTConfig())

	resp, err := svc.RefreshToken(context.Background(), RefreshTokenRequest{RefreshToken: oldToken})
	require.NoError(t, err)

	// The presented token is consumed and a fresh one takes its place.
	assert.Equal(t, []string{oldToken}, deleted)
	require.NotNil(t, saved)
	assert.NotEqual(t, oldToken, resp.RefreshToken)
	assert.Len(t, resp.RefreshToken, 64)
	assert.Equal(t, resp.RefreshToken, saved.Token)
	assert.NotEmpty(t, resp.Token)
}

func TestRefreshTokenExpired(t *testing.T) {
	bob := testUser(model.RoleManager, "bob")
	oldToken := "feedfeedfeedfeedfeedfeedfeedfeedfeedfeedfeedfeedfeedfeedfeedfeed"

	var deleted []string
	repo := &fakeUserRepo{
		findRefreshTokenFn: func(context.Context, string) (*model.RefreshToken, error) {
			return &model.RefreshToken{
				UserID:    bob.ID,
				Token:     oldToken,
				ExpiresAt: time.Now().Add(-time.Minute),
			}, nil
		},
		deleteRefreshTokenFn: func(_ context.Context, token string) error {
			deleted = append(deleted, token)
			return nil
		},
	}
	svc := NewUserService(repo, nil, testJWTConfig())

	_, err := svc.RefreshToken(context.Background(), RefreshTokenRequest{RefreshToken: oldToken})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "refresh token expired")
	assert.Equal(t, []string{oldToken}, deleted)
}

func TestRefreshTokenUnknown(t *testing.T) {
	repo := &fakeUserRepo{
		findRefreshTokenFn: func(context.Context, string) (*model.RefreshToken, error) {
			return nil, errNotFound()
		},
	}
	svc := NewUserService(repo, nil, testJWTConfig())

	_, err := svc.RefreshToken(context.Background(), RefreshTokenRequest{RefreshToken: "bogus"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "invalid refresh token")
}

func TestLogout(t *testing.T) {
	t.Run("deletes the refresh token row", func(t *testing.T) {
		var deleted []string
		repo := &fakeUserRepo{
			deleteRefreshTokenFn: func(_ context.Context, token string) error {
				deleted = append(deleted, token)
				return nil
			},
		}
		svc := NewUserService(repo, nil, testJWTConfig())

		err := svc.Logout(context.Background(), "", "some-refresh-token")
		require.NoError(t, err)
		assert.Equal(t, []string{"some-refresh-token"}, deleted)
	})

	t.Run("tolerates an already-deleted row", func(t *testing.T) {
		repo := &fakeUserRepo{
			deleteRefreshTokenFn: func(context.Context, string) error {
				return errNotFound()
			},
		}
		svc := NewUserService(repo, nil, testJWTConfig())

		err := svc.Logout(context.Background(), "", "some-refresh-token")
		require.NoError(t, err)
	})

	t.Run("ignores an unparseable access token", func(t *testing.T) {
		svc := NewUserService(&fakeUserRepo{}, nil, testJWTConfig())

		err := svc.Logout(context.Background(), "not-a-jwt", "")
		require.NoError(t, err)
	})
}

func TestCreateUser(t *testing.T) {
	available := func(context.Context, string) (*model.User, error) {
		return nil, errNotFound()
	}

	t.Run("hashes the password", func(t *testing.T) {
		var created *model.User
		repo := &fakeUserRepo{
			getByUsernameFn: available,
			getByEmailFn:    available,
			createFn: func(_ context.Context, user *model.User) error {
				user.ID = uuid.New()
				created = user
				return nil
			},
		}
		svc := NewUserService(repo, nil, testJWTConfig())

		resp, err := svc.CreateUser(context.Background(), CreateUserRequest{
			Username: "dora",
			Email:    "dora@store.test",
			Phone:    "555-0101",
			Password: "hunter2secret",
			Role:     "salesperson",
		})
		require.NoError(t, err)

		assert.Equal(t, "dora", resp.Username)
		assert.Equal(t, string(model.RoleSalesperson), resp.Role)
		assert.Equal(t, 1, resp.Rank)

		require.NotNil(t, created)
		assert.NotEqual(t, "hunter2secret", created.Password)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.Password), []byte("hunter2secret")))
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		existing := testUser(model.RoleSalesperson, "dora")
		repo := &fakeUserRepo{
			getByUsernameFn: func(_ context.Context, username string) (*model.User, error) {
				if username == existing.Username {
					return existing, nil
				}
				return nil, errNotFound()
			},
			getByEmailFn: func(_ context.Context, email string) (*model.User, error) {
				if email == existing.Email {
					return existing, nil
				}
				return nil, errNotFound()
			},
		}
		svc := NewUserService(repo, nil, testJWTConfig())

		_, err := svc.CreateUser(context.Background(), CreateUserRequest{
			Username: "dora", Email: "fresh@store.test", Phone: "555-0101",
			Password: "hunter2secret", Role: "salesperson",
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
		assert.Contains(t, err.Error(), "username already exists")

		_, err = svc.CreateUser(context.Background(), CreateUserRequest{
			Username: "fresh", Email: existing.Email, Phone: "555-0101",
			Password: "hunter2secret", Role: "salesperson",
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
		assert.Contains(t, err.Error(), "email already exists")
	})

	t.Run("validates role and email", func(t *testing.T) {
		svc := NewUserService(&fakeUserRepo{}, nil, testJWTConfig())

		_, err := svc.CreateUser(context.Background(), CreateUserRequest{
			Username: "dora", Email: "dora@store.test", Phone: "555-0101",
			Password: "hunter2secret", Role: "cashier",
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))

		_, err = svc.CreateUser(context.Background(), CreateUserRequest{
			Username: "dora", Email: "not-an-email", Phone: "555-0101",
			Password: "hunter2secret", Role: "salesperson",
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
	})
}

func TestListApprovers(t *testing.T) {
	bob := testUser(model.RoleManager, "bob")
	erin := testUser(model.RoleSeniorManager, "erin")

	repo := &fakeUserRepo{
		listByRolesFn: func(_ context.Context, roles []model.Role) ([]model.User, error) {
			assert.Equal(t, []model.Role{model.RoleManager, model.RoleSeniorManager, model.RoleAdmin}, roles)
			return []model.User{*bob, *erin}, nil
		},
	}
	svc := NewUserService(repo, nil, testJWTConfig())

	approvers, err := svc.ListApprovers(context.Background())
	require.NoError(t, err)
	require.Len(t, approvers, 2)
	assert.Equal(t, "bob", approvers[0].Username)
	assert.Equal(t, 2, approvers[0].Rank)
	assert.Equal(t, "erin", approvers[1].Username)
	assert.Equal(t, 3, approvers[1].Rank)
}

func TestUpdateUser(t *testing.T) {
	t.Run("promotes a user", func(t *testing.T) {
		carol := testUser(model.RoleManager, "carol")
		var updated *model.User
		repo := userDirectory(carol)
		repo.updateFn = func(_ context.Context, user *model.User) error {
			updated = user
			return nil
		}
		svc := NewUserService(repo, nil, testJWTConfig())

		resp, err := svc.UpdateUser(context.Background(), carol.ID.String(), UpdateUserRequest{
			Role: "senior_manager",
		})
		require.NoError(t, err)
		assert.Equal(t, string(model.RoleSeniorManager), resp.Role)
		require.NotNil(t, updated)
		assert.Equal(t, model.RoleSeniorManager, updated.Role)
	})

	t.Run("rejects a taken username", func(t *testing.T) {
		carol := testUser(model.RoleManager, "carol")
		bob := testUser(model.RoleManager, "bob")
		repo := userDirectory(carol)
		repo.getByUsernameFn = func(_ context.Context, username string) (*model.User, error) {
			if username == bob.Username {
				return bob, nil
			}
			return nil, errNotFound()
		}
		svc := NewUserService(repo, nil, testJWTConfig())

		_, err := svc.UpdateUser(context.Background(), carol.ID.String(), UpdateUserRequest{
			Username: "bob",
		})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeConflict, apperrors.CodeOf(err))
	})
}

func TestDeleteUserRevokesSessions(t *testing.T) {
	carol := testUser(model.RoleManager, "carol")

	var ops []string
	repo := userDirectory(carol)
	repo.deleteRefreshTokensForUserFn = func(_ context.Context, userID uuid.UUID) error {
		require.Equal(t, carol.ID, userID)
		ops = append(ops, "revoke")
		return nil
	}
	repo.deleteFn = func(_ context.Context, id string) error {
		require.Equal(t, carol.ID.String(), id)
		ops = append(ops, "delete")
		return nil
	}
	svc := NewUserService(repo, nil, testJWTConfig())

	err := svc.DeleteUser(context.Background(), carol.ID.String())
	require.NoError(t, err)
	// Sessions go first so a deleted account cannot keep refreshing.
	assert.Equal(t, []string{"revoke", "delete"}, ops)
}
