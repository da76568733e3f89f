package student_test

import (
	"context"
	"testing"
	"time"

	commonmetrics "resource-service/common/metrics"
	"resource-service/internal/credential"
	"resource-service/internal/device"
	"resource-service/internal/student"
	"resource-service/testing/testdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudentRepository_Shared(t *testing.T) {
	pgContainer := testdb.SetupSharedPostgres(t)
	ctx := context.Background()
	repo := student.NewRepository(pgContainer.DB, commonmetrics.NewMock())

	create := func(t *testing.T, email string) *student.Student {
		t.Helper()
		s, err := repo.Create(ctx, &student.Student{
			Name:         "Test",
			Email:        email,
			PasswordHash: "hash",
			DeviceLimit:  2,
		})
		require.NoError(t, err)
		return s
	}

	t.Run("Create_DuplicateEmail", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, testdb.AllTables...)

		created := create(t, "dup@example.com")
		assert.NotZero(t, created.ID)
		assert.Equal(t, []string{}, created.ActiveDevices)
		assert.Equal(t, []int64{}, created.BatchIDs)

		_, err := repo.Create(ctx, &student.Student{Name: "Other", Email: "dup@example.com", PasswordHash: "h", DeviceLimit: 2})
		assert.ErrorIs(t, err, student.ErrEmailExists)
	})

	t.Run("GetByID_NotFound", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, testdb.AllTables...)

		_, err := repo.GetByID(ctx, 12345)
		assert.ErrorIs(t, err, student.ErrStudentNotFound)
	})

	t.Run("Credentials", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, testdb.AllTables...)
		created := create(t, "cred@example.com")

		subject, err := repo.FindCredentialByEmail(ctx, "cred@example.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, subject.ID)

		_, err = repo.FindCredentialByEmail(ctx, "missing@example.com")
		assert.ErrorIs(t, err, credential.ErrSubjectNotFound)

		require.NoError(t, repo.UpdatePasswordHash(ctx, created.ID, "new-hash"))
		subject, err = repo.FindCredentialByEmail(ctx, "cred@example.com")
		require.NoError(t, err)
		assert.Equal(t, "new-hash", subject.PasswordHash)

		assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, 999, "x"), student.ErrStudentNotFound)
	})

	t.Run("Devices_VersionedSave", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, testdb.AllTables...)
		created := create(t, "devices@example.com")

		state, err := repo.LoadDevices(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, state.Registry.Limit)
		assert.Empty(t, state.Registry.Devices)

		stale := state
		expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		state.Registry.Admit("phone", device.Token{Hash: device.HashToken("t1"), ExpiresAt: expires})
		require.NoError(t, repo.SaveDevices(ctx, state))

		assert.ErrorIs(t, repo.SaveDevices(ctx, stale), device.ErrVersionConflict)

		reloaded, err := repo.LoadDevices(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"phone"}, reloaded.Registry.Devices)
		assert.True(t, reloaded.Registry.IsLive("phone", device.HashToken("t1"), time.Now()))
		assert.Equal(t, state.Version+1, reloaded.Version)
	})

	t.Run("UpdateDeviceLimit_BumpsVersion", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, testdb.AllTables...)
		created := create(t, "limit@example.com")

		before, err := repo.LoadDevices(ctx, created.ID)
		require.NoError(t, err)

		require.NoError(t, repo.UpdateDeviceLimit(ctx, created.ID, 5))

		after, err := repo.LoadDevices(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, after.Registry.Limit)
		assert.Greater(t, after.Version, before.Version)

		assert.ErrorIs(t, repo.SaveDevices(ctx, before), device.ErrVersionConflict)
		assert.ErrorIs(t, repo.UpdateDeviceLimit(ctx, 999, 3), student.ErrStudentNotFound)
	})

	t.Run("GetByIDs", func(t *testing.T) {
		testdb.CleanupTables(t, pgContainer.DB, testdb.AllTables...)
		a := create(t, "a@example.com")
		create(t, "b@example.com")

		got, err := repo.GetByIDs(ctx, []int64{a.ID, 999})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, a.ID, got[0].ID)

		got, err = repo.GetByIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
