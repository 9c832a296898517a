package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jjudge-oj/accounts/internal/apperr"
	"github.com/jjudge-oj/accounts/internal/auth"
	"github.com/jjudge-oj/accounts/internal/events"
	"github.com/jjudge-oj/accounts/internal/storage"
	"github.com/jjudge-oj/accounts/internal/store"
	"github.com/jjudge-oj/accounts/types"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) kinds() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Type)
	}
	return out
}

type fixture struct {
	svc      *UserService
	repo     *store.MemoryUserRepository
	hasher   *auth.BcryptHasher
	events   *recordingPublisher
	pictures *storage.MemoryBackend
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := store.NewMemoryUserRepository()
	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	pub := &recordingPublisher{}
	pictures := storage.NewMemoryBackend("test")
	svc := NewUserService(repo, hasher,
		WithEvents(pub),
		WithPictureStore(storage.NewStorage(pictures), 1<<20),
	)
	return fixture{svc: svc, repo: repo, hasher: hasher, events: pub, pictures: pictures}
}

func requireKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok, "expected classified error, got %v", err)
	require.Equal(t, kind, appErr.Kind, appErr.Message)
	return appErr
}

func strPtr(s string) *string { return &s }

func TestUserService_Register(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Register(ctx, RegisterInput{
		Username: " alice ",
		Email:    "a@x.com",
		Password: "Abcdef1!",
		FullName: "Alice",
	})
	require.NoError(t, err)
	require.Equal(t, "alice", user.Username)
	require.Equal(t, types.RoleUser, user.Role)
	require.Equal(t, types.StatusActive, user.Status)
	require.NotEqual(t, "Abcdef1!", user.PasswordHash)
	require.Nil(t, user.LastLogin)

	ok, err := f.hasher.Verify("Abcdef1!", user.PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, []events.Type{events.UserRegistered}, f.events.kinds())
}

func TestUserService_RegisterValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "al",
		Email:    "not-an-email",
		Password: "short",
		FullName: strings.Repeat("x", 101),
	})
	appErr := requireKind(t, err, apperr.KindValidation)
	require.Equal(t, "Validation failed", appErr.Message)
	require.Equal(t, "Username must be between 3 and 50 characters", appErr.Fields["username"])
	require.Equal(t, "Email should be valid", appErr.Fields["email"])
	require.Equal(t, "Password must be at least 8 characters", appErr.Fields["password"])
	require.Equal(t, "Full name must be at most 100 characters", appErr.Fields["fullName"])

	_, err = f.svc.Register(context.Background(), RegisterInput{})
	appErr = requireKind(t, err, apperr.KindValidation)
	require.Equal(t, "Username is required", appErr.Fields["username"])
	require.Equal(t, "Email is required", appErr.Fields["email"])
	require.Equal(t, "Password is required", appErr.Fields["password"])
	require.Empty(t, f.events.kinds())
}

func TestValidatePassword(t *testing.T) {
	require.Empty(t, validatePassword("Abcdef1!"))
	require.NotEmpty(t, validatePassword("abcdefg1!"))
	require.NotEmpty(t, validatePassword("ABCDEFG1!"))
	require.NotEmpty(t, validatePassword("Abcdefgh!"))
	require.NotEmpty(t, validatePassword("Abcdefgh1"))
	require.Equal(t, "Password must be at most 72 bytes", validatePassword("Aa1!"+strings.Repeat("x", 69)))
}

func TestValidateEmail(t *testing.T) {
	require.Empty(t, validateEmail("a@x.com"))
	require.Empty(t, validateEmail("first.last+tag@example.co.uk"))
	require.NotEmpty(t, validateEmail("Alice <a@x.com>"))
	require.NotEmpty(t, validateEmail("a@"))
	require.NotEmpty(t, validateEmail("@x.com"))
	require.NotEmpty(t, validateEmail("plain"))
}

func TestUserService_RegisterDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@x.com", Password: "Abcdef1!"})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, RegisterInput{Username: "ALICE", Email: "b@x.com", Password: "Abcdef1!"})
	appErr := requireKind(t, err, apperr.KindConflict)
	require.Equal(t, "Username already exists", appErr.Message)

	_, err = f.svc.Register(ctx, RegisterInput{Username: "bob", Email: "A@X.COM", Password: "Abcdef1!"})
	appErr = requireKind(t, err, apperr.KindConflict)
	require.Equal(t, "Email already exists", appErr.Message)
}

func TestUserService_ConcurrentRegistrationSameUsername(t *testing.T) {
	f := newFixture(t)

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "racer"
			if i%2 == 1 {
				name = "RACER"
			}
			_, err := f.svc.Register(context.Background(), RegisterInput{
				Username: name,
				Email:    fmt.Sprintf("racer%d@x.com", i),
				Password: "Abcdef1!",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			if apperr.KindOf(err) == apperr.KindConflict {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, ok)
	require.Equal(t, n-1, conflicts)

	page, err := f.repo.List(context.Background(), types.UserFilter{Size: 100})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalElements)
}

func TestUserService_CreateWithRoleAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Create(ctx, CreateUserInput{
		Username: "root",
		Email:    "root@x.com",
		Password: "Abcdef1!",
		Role:     "admin",
		Status:   "inactive",
	})
	require.NoError(t, err)
	require.Equal(t, types.RoleAdmin, user.Role)
	require.Equal(t, types.StatusInactive, user.Status)

	_, err = f.svc.Create(ctx, CreateUserInput{
		Username: "other",
		Email:    "other@x.com",
		Password: "Abcdef1!",
		Role:     "superuser",
	})
	appErr := requireKind(t, err, apperr.KindValidation)
	require.Contains(t, appErr.Fields, "role")
}

func TestUserService_GetAndNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@x.com", Password: "Abcdef1!"})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.Username, got.Username)

	got, err = f.svc.GetByUsername(ctx, "ALICE")
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)

	_, err = f.svc.Get(ctx, 404)
	requireKind(t, err, apperr.KindNotFound)
	_, err = f.svc.GetByUsername(ctx, "nobody")
	requireKind(t, err, apperr.KindNotFound)
}

func TestUserService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := range 12 {
		_, err := f.svc.Register(ctx, RegisterInput{
			Username: fmt.Sprintf("user%02d", i),
			Email:    fmt.Sprintf("user%02d@x.com", i),
			Password: "Abcdef1!",
		})
		require.NoError(t, err)
	}

	page, err := f.svc.List(ctx, ListUsersInput{})
	require.NoError(t, err)
	require.Equal(t, 10, page.Size)
	require.Len(t, page.Items, 10)
	require.Equal(t, 12, page.TotalElements)
	require.Equal(t, 2, page.TotalPages())

	page, err = f.svc.List(ctx, ListUsersInput{Page: 1, Size: 1000, Sort: "username", Direction: "desc"})
	require.NoError(t, err)
	require.Equal(t, 100, page.Size)
	require.Empty(t, page.Items)

	page, err = f.svc.List(ctx, ListUsersInput{Size: 5, Sort: "username", Direction: "desc"})
	require.NoError(t, err)
	require.Equal(t, "user11", page.Items[0].Username)

	_, err = f.svc.List(ctx, ListUsersInput{Page: -1, Size: -1, Sort: "password_hash", Direction: "up", Status: "gone"})
	appErr := requireKind(t, err, apperr.KindValidation)
	require.Len(t, appErr.Fields, 5)
}

func TestUserService_ListRejectsPageBeyondOffsetRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.List(ctx, ListUsersInput{Page: math.MaxInt, Size: 100})
	appErr := requireKind(t, err, apperr.KindValidation)
	require.Contains(t, appErr.Fields, "page")

	page, err := f.svc.List(ctx, ListUsersInput{Page: types.MaxPage(100), Size: 100})
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.True(t, page.IsLast())
}

func TestUserService_Update(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@x.com", Password: "Abcdef1!"})
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, RegisterInput{Username: "bob", Email: "b@x.com", Password: "Abcdef1!"})
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, alice.ID, UpdateUserInput{
		Username: strPtr("Alice"),
		FullName: strPtr("Alice Liddell"),
		Password: strPtr(""),
	})
	require.NoError(t, err)
	require.Equal(t, "Alice", updated.Username)
	require.Equal(t, "Alice Liddell", updated.FullName)
	require.Equal(t, alice.PasswordHash, updated.PasswordHash)
	require.Equal(t, alice.CreatedAt, updated.CreatedAt)

	_, err = f.svc.Update(ctx, alice.ID, UpdateUserInput{Username: strPtr("BOB")})
	requireKind(t, err, apperr.KindConflict)

	_, err = f.svc.Update(ctx, alice.ID, UpdateUserInput{Email: strPtr("b@x.com")})
	requireKind(t, err, apperr.KindConflict)

	updated, err = f.svc.Update(ctx, alice.ID, UpdateUserInput{Password: strPtr("Newpass1!")})
	require.NoError(t, err)
	ok, err := f.hasher.Verify("Newpass1!", updated.PasswordHash)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Update(ctx, alice.ID, UpdateUserInput{Role: strPtr("owner")})
	requireKind(t, err, apperr.KindValidation)

	_, err = f.svc.Update(ctx, 404, UpdateUserInput{FullName: strPtr("x")})
	requireKind(t, err, apperr.KindNotFound)

	require.True(t, UpdateUserInput{Status: strPtr("ACTIVE")}.TouchesPrivileges())
	require.False(t, UpdateUserInput{FullName: strPtr("x")}.TouchesPrivileges())
}

func TestUserService_ChangeStatusAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@x.com", Password: "Abcdef1!"})
	require.NoError(t, err)

	suspended, err := f.svc.ChangeStatus(ctx, alice.ID, "suspended")
	require.NoError(t, err)
	require.Equal(t, types.StatusSuspended, suspended.Status)

	_, err = f.svc.ChangeStatus(ctx, alice.ID, "frozen")
	requireKind(t, err, apperr.KindValidation)

	require.NoError(t, f.svc.Delete(ctx, alice.ID))
	requireKind(t, f.svc.Delete(ctx, alice.ID), apperr.KindNotFound)

	require.Equal(t, []events.Type{
		events.UserRegistered,
		events.UserStatusChanged,
		events.UserDeleted,
	}, f.events.kinds())
	require.Equal(t, "SUSPENDED", f.events.events[1].Data["status"])
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestUserService_ProfilePicture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "a@x.com", Password: "Abcdef1!"})
	require.NoError(t, err)

	_, err = f.svc.OpenProfilePicture(ctx, alice.ID)
	requireKind(t, err, apperr.KindNotFound)

	first, err := f.svc.SetProfilePicture(ctx, alice.ID, PictureUpload{
		Filename: "me.png",
		Size:     int64(len(pngHeader)),
		Body:     bytes.NewReader(pngHeader),
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first.ProfilePicture, "profile-pictures/"))

	obj, err := f.svc.OpenProfilePicture(ctx, alice.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	require.NoError(t, obj.Body.Close())
	require.Equal(t, pngHeader, data)
	require.Equal(t, "image/png", obj.ContentType)

	second, err := f.svc.SetProfilePicture(ctx, alice.ID, PictureUpload{
		Filename: "me2.png",
		Size:     int64(len(pngHeader)),
		Body:     bytes.NewReader(pngHeader),
	})
	require.NoError(t, err)
	require.NotEqual(t, first.ProfilePicture, second.ProfilePicture)
	require.Equal(t, 1, f.pictures.Len(), "the previous picture is removed")

	_, err = f.svc.SetProfilePicture(ctx, alice.ID, PictureUpload{
		Filename: "evil.png",
		Size:     11,
		Body:     strings.NewReader("hello world"),
	})
	appErr := requireKind(t, err, apperr.KindValidation)
	require.Contains(t, appErr.Fields, "file")

	_, err = f.svc.SetProfilePicture(ctx, alice.ID, PictureUpload{
		Filename: "big.png",
		Size:     2 << 20,
		Body:     bytes.NewReader(pngHeader),
	})
	requireKind(t, err, apperr.KindValidation)

	require.NoError(t, f.svc.Delete(ctx, alice.ID))
	require.Equal(t, 0, f.pictures.Len())
}

func TestUserService_ProfilePictureWithoutStorage(t *testing.T) {
	svc := NewUserService(store.NewMemoryUserRepository(), auth.NewBcryptHasher(bcrypt.MinCost))

	_, err := svc.SetProfilePicture(context.Background(), 1, PictureUpload{Size: 1, Body: strings.NewReader("x")})
	requireKind(t, err, apperr.KindUnavailable)

	_, err = svc.OpenProfilePicture(context.Background(), 1)
	requireKind(t, err, apperr.KindUnavailable)
}
