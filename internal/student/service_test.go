package student

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"resource-service/common/apperror"
	"resource-service/common/logger"
	"resource-service/internal/credential"
	"resource-service/internal/device"
	"resource-service/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memoryRepo is an in-memory Repository keyed by id.
type memoryRepo struct {
	mu       sync.Mutex
	nextID   int64
	students map[int64]*Student
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{students: map[int64]*Student{}}
}

func (m *memoryRepo) Create(_ context.Context, s *Student) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.students {
		if existing.Email == s.Email {
			return nil, ErrEmailExists
		}
	}
	m.nextID++
	cp := *s
	cp.ID = m.nextID
	m.students[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memoryRepo) GetByID(_ context.Context, id int64) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return nil, ErrStudentNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memoryRepo) GetByEmail(_ context.Context, email string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.Email == email {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrStudentNotFound
}

func (m *memoryRepo) GetAll(_ context.Context) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryRepo) GetByIDs(ctx context.Context, ids []int64) ([]Student, error) {
	all, _ := m.GetAll(ctx)
	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	out := []Student{}
	for _, s := range all {
		if want[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryRepo) UpdateDeviceLimit(_ context.Context, id int64, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return ErrStudentNotFound
	}
	s.DeviceLimit = limit
	s.Version++
	return nil
}

func (m *memoryRepo) FindCredentialByEmail(ctx context.Context, email string) (credential.Subject, error) {
	s, err := m.GetByEmail(ctx, email)
	if err != nil {
		return credential.Subject{}, credential.ErrSubjectNotFound
	}
	return credential.Subject{ID: s.ID, Name: s.Name, PasswordHash: s.PasswordHash}, nil
}

func (m *memoryRepo) UpdatePasswordHash(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[id]
	if !ok {
		return ErrStudentNotFound
	}
	s.PasswordHash = hash
	return nil
}

func (m *memoryRepo) LoadDevices(context.Context, int64) (device.State, error) {
	return device.State{}, errors.New("not used")
}

func (m *memoryRepo) SaveDevices(context.Context, device.State) error {
	return errors.New("not used")
}

type staticMembership map[int64][]int64

func (s staticMembership) StudentsInBatch(_ context.Context, batchID int64) ([]int64, error) {
	return s[batchID], nil
}

type staticTitles map[int64]string

func (s staticTitles) Titles(_ context.Context, ids []int64) (map[int64]string, error) {
	out := map[int64]string{}
	for _, id := range ids {
		if title, ok := s[id]; ok {
			out[id] = title
		}
	}
	return out, nil
}

var testLimits = Limits{DefaultDevices: 2, MinDevices: 1, MaxDevices: 10, TempPasswordLen: 12}

func newTestService(t *testing.T, repo *memoryRepo, members staticMembership, titles staticTitles) (Service, *credential.Store) {
	t.Helper()
	creds, err := credential.NewStore(repo, credential.NewBcryptHasher(bcrypt.MinCost))
	require.NoError(t, err)
	return NewService(repo, creds, members, titles, testLimits, metrics.NewMock(), logger.Discard()), creds
}

func verify(t *testing.T, creds *credential.Store, email, password string) credential.Result {
	t.Helper()
	result, _, err := creds.Verify(context.Background(), email, password)
	require.NoError(t, err)
	return result
}

func TestService_Enroll(t *testing.T) {
	ctx := context.Background()

	t.Run("temporary password logs in once returned", func(t *testing.T) {
		repo := newMemoryRepo()
		svc, creds := newTestService(t, repo, nil, nil)

		resp, err := svc.Enroll(ctx, EnrollRequest{Name: "  Ada Lovelace ", Email: "Ada@Example.COM "})
		require.NoError(t, err)

		assert.Equal(t, "ada@example.com", resp.Email)
		assert.Equal(t, "Ada Lovelace", resp.Name)
		assert.Len(t, resp.Password, testLimits.TempPasswordLen)
		assert.Equal(t, credential.Match, verify(t, creds, "ada@example.com", resp.Password))

		stored, err := repo.GetByID(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, testLimits.DefaultDevices, stored.DeviceLimit)
		assert.NotEqual(t, resp.Password, stored.PasswordHash)
	})

	t.Run("duplicate email after normalization conflicts", func(t *testing.T) {
		svc, _ := newTestService(t, newMemoryRepo(), nil, nil)

		_, err := svc.Enroll(ctx, EnrollRequest{Name: "A", Email: "dup@example.com"})
		require.NoError(t, err)

		_, err = svc.Enroll(ctx, EnrollRequest{Name: "B", Email: "DUP@example.com"})
		assert.ErrorIs(t, err, ErrEmailExists)
		assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	})
}

func TestService_Passwords(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, creds := newTestService(t, repo, nil, nil)

	enrolled, err := svc.Enroll(ctx, EnrollRequest{Name: "Grace", Email: "grace@example.com"})
	require.NoError(t, err)

	t.Run("admin set password replaces the hash", func(t *testing.T) {
		require.NoError(t, svc.SetPassword(ctx, enrolled.ID, "chosen-by-admin"))
		assert.Equal(t, credential.Match, verify(t, creds, "grace@example.com", "chosen-by-admin"))
		assert.Equal(t, credential.NoMatch, verify(t, creds, "grace@example.com", enrolled.Password))
	})

	t.Run("password over the bcrypt limit is a validation error", func(t *testing.T) {
		err := svc.SetPassword(ctx, enrolled.ID, strings.Repeat("p", 80))
		assert.ErrorIs(t, err, credential.ErrPasswordTooLong)
		assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
		assert.Equal(t, credential.Match, verify(t, creds, "grace@example.com", "chosen-by-admin"))
	})

	t.Run("set password for unknown student", func(t *testing.T) {
		err := svc.SetPassword(ctx, 999, "whatever")
		assert.ErrorIs(t, err, ErrStudentNotFound)
	})

	t.Run("change password requires the old one", func(t *testing.T) {
		err := svc.ChangePassword(ctx, enrolled.ID, "wrong", "brand-new")
		assert.ErrorIs(t, err, ErrOldPasswordIncorrect)
		assert.Equal(t, credential.Match, verify(t, creds, "grace@example.com", "chosen-by-admin"))

		require.NoError(t, svc.ChangePassword(ctx, enrolled.ID, "chosen-by-admin", "brand-new"))
		assert.Equal(t, credential.Match, verify(t, creds, "grace@example.com", "brand-new"))
	})

	t.Run("reset generates a fresh temporary password", func(t *testing.T) {
		out, err := svc.ResetPassword(ctx, enrolled.ID)
		require.NoError(t, err)

		assert.Equal(t, "Grace", out.Name)
		assert.Equal(t, "grace@example.com", out.Email)
		assert.Len(t, out.Password, testLimits.TempPasswordLen)
		assert.Equal(t, credential.Match, verify(t, creds, "grace@example.com", out.Password))
		assert.Equal(t, credential.NoMatch, verify(t, creds, "grace@example.com", "brand-new"))
	})

	t.Run("reset for unknown student", func(t *testing.T) {
		_, err := svc.ResetPassword(ctx, 999)
		assert.ErrorIs(t, err, ErrStudentNotFound)
	})
}

func TestService_SetDeviceLimit(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc, _ := newTestService(t, repo, nil, nil)

	enrolled, err := svc.Enroll(ctx, EnrollRequest{Name: "Linus", Email: "linus@example.com"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		limit   int
		wantErr bool
	}{
		{name: "lower bound", limit: testLimits.MinDevices},
		{name: "upper bound", limit: testLimits.MaxDevices},
		{name: "below range", limit: 0, wantErr: true},
		{name: "above range", limit: testLimits.MaxDevices + 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.SetDeviceLimit(ctx, enrolled.ID, tt.limit)
			if tt.wantErr {
				assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
				return
			}
			require.NoError(t, err)
			stored, err := repo.GetByID(ctx, enrolled.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.limit, stored.DeviceLimit)
		})
	}

	t.Run("unknown student", func(t *testing.T) {
		err := svc.SetDeviceLimit(ctx, 999, 3)
		assert.ErrorIs(t, err, ErrStudentNotFound)
	})
}

func TestService_Listings(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()

	a, err := repo.Create(ctx, &Student{Name: "A", Email: "a@example.com", BatchIDs: []int64{1, 2}})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &Student{Name: "B", Email: "b@example.com", ActiveDevices: []string{"phone"}})
	require.NoError(t, err)

	svc, _ := newTestService(t, repo,
		staticMembership{1: {a.ID}},
		staticTitles{1: "Morning", 2: "Evening"},
	)

	t.Run("list resolves batch titles", func(t *testing.T) {
		all, err := svc.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)

		assert.Equal(t, []string{"Morning", "Evening"}, all[0].Batches)
		assert.Equal(t, []string{}, all[0].ActiveDevices)
		assert.Empty(t, all[1].Batches)
		assert.Equal(t, []string{"phone"}, all[1].ActiveDevices)
	})

	t.Run("list by batch returns members only", func(t *testing.T) {
		members, err := svc.ListByBatch(ctx, 1)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, a.ID, members[0].ID)
		assert.Nil(t, members[0].Batches)
	})

	t.Run("empty batch", func(t *testing.T) {
		members, err := svc.ListByBatch(ctx, 42)
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}
