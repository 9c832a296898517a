package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jjudge-oj/accounts/config"
)

func TestStorage_MemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStorage(NewMemoryBackend("pictures"))
	require.NoError(t, s.EnsureBucket(ctx))
	require.Equal(t, "pictures", s.Bucket())

	require.NoError(t, s.Put(ctx, "a/b.png", strings.NewReader("png-bytes"), 9, "image/png"))

	obj, err := s.Get(ctx, "a/b.png")
	require.NoError(t, err)
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(data))
	require.Equal(t, "image/png", obj.ContentType)
	require.Equal(t, int64(9), obj.Size)

	require.NoError(t, s.Delete(ctx, "a/b.png"))
	_, err = s.Get(ctx, "a/b.png")
	require.ErrorIs(t, err, ErrObjectNotFound)
}

func TestProfilePictureKey(t *testing.T) {
	first := ProfilePictureKey(7, "Me.PNG")
	second := ProfilePictureKey(7, "Me.PNG")

	require.True(t, strings.HasPrefix(first, "profile-pictures/7/"))
	require.True(t, strings.HasSuffix(first, ".png"))
	require.NotEqual(t, first, second)

	require.False(t, strings.Contains(ProfilePictureKey(7, "x.averyveryverylongext"), ".avery"))
	require.False(t, strings.Contains(ProfilePictureKey(7, "../../etc/passwd"), ".."))
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.StorageConfig{})
	require.NoError(t, err)
	require.Nil(t, s)

	s, err = Open(context.Background(), config.StorageConfig{Backend: config.StorageBackendMemory})
	require.NoError(t, err)
	require.NotNil(t, s)

	_, err = Open(context.Background(), config.StorageConfig{Backend: "s3"})
	require.Error(t, err)

	_, err = Open(context.Background(), config.StorageConfig{Backend: config.StorageBackendMinio})
	require.Error(t, err)
}
