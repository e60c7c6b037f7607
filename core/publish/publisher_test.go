package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"TrackHub/errs"
	"TrackHub/model"
	"TrackHub/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trackID = "9d3b1f2a-6c1e-4b7a-8f0d-3a2b1c4d5e6f"

type fakeRepo struct {
	mu     sync.Mutex
	tracks map[string]*model.Track
	err    error
}

func newFakeRepo() *fakeRepo { return &fakeRepo{tracks: map[string]*model.Track{}} }

func (f *fakeRepo) Create(ctx context.Context, t *model.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tracks[t.ID] = t
	return nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (*model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracks[id], nil
}

func (f *fakeRepo) ExistsByID(ctx context.Context, id string) (bool, error) {
	t, _ := f.GetByID(ctx, id)
	return t != nil, nil
}

// failingStore fails Put for one bucket and optionally every Delete.
type failingStore struct {
	storage.Store
	failPutBucket string
	failDelete    bool
}

func (f *failingStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64, ct string) error {
	if bucket == f.failPutBucket {
		return errs.External("put", errors.New("bucket unavailable"))
	}
	return f.Store.Put(ctx, bucket, key, r, size, ct)
}

func (f *failingStore) Delete(ctx context.Context, bucket string, keys ...string) error {
	if f.failDelete {
		return errs.External("delete", errors.New("denied"))
	}
	return f.Store.Delete(ctx, bucket, keys...)
}

func setup(t *testing.T) (*storage.LocalStore, string) {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	media := filepath.Join(t.TempDir(), "song.aac")
	require.NoError(t, os.WriteFile(media, []byte("aac-bytes"), 0o644))
	return store, media
}

func request(media string, th *Thumbnail) Request {
	return Request{
		TrackID:    trackID,
		Title:      "Night Drive",
		CategoryID: "lofi",
		OwnerID:    "owner-1",
		Duration:   42.5,
		MediaPath:  media,
		Thumbnail:  th,
	}
}

func jpeg(name string) *Thumbnail {
	return &Thumbnail{Filename: name, ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}}
}

func TestPublish_MediaOnly(t *testing.T) {
	store, media := setup(t)
	repo := newFakeRepo()
	p := NewPublisher(store, repo, "tracks", "thumbnail", 2<<20)

	track, err := p.Publish(context.Background(), request(media, nil))
	require.NoError(t, err)
	assert.Equal(t, trackID+"/"+trackID+".aac", track.FilePath)
	assert.Empty(t, track.ThumbnailPath)
	assert.Equal(t, "owner-1", track.OwnerID)
	assert.InDelta(t, 42.5, track.Duration, 1e-9)

	info, err := store.Stat(context.Background(), "tracks", track.FilePath)
	require.NoError(t, err)
	assert.Equal(t, int64(len("aac-bytes")), info.Size)
	assert.NotNil(t, repo.tracks[trackID])
}

func TestPublish_ReplacesExistingThumbnails(t *testing.T) {
	store, media := setup(t)
	ctx := context.Background()
	for _, key := range []string{trackID + "/thumbnail.png", trackID + "/thumbnail-old.jpg"} {
		require.NoError(t, store.Put(ctx, "thumbnail", key, strings.NewReader("old"), 3, "image/png"))
	}
	require.NoError(t, store.Put(ctx, "thumbnail", "other-track/thumbnail.jpg", strings.NewReader("keep"), 4, "image/jpeg"))

	p := NewPublisher(store, newFakeRepo(), "tracks", "thumbnail", 2<<20)
	track, err := p.Publish(ctx, request(media, jpeg("cover.JPEG")))
	require.NoError(t, err)
	assert.Equal(t, trackID+"/thumbnail.jpeg", track.ThumbnailPath)

	objs, err := store.List(ctx, "thumbnail", trackID+"/")
	require.NoError(t, err)
	require.Len(t, objs, 1, "exactly one thumbnail per track")
	assert.Equal(t, track.ThumbnailPath, objs[0].Key)

	others, err := store.List(ctx, "thumbnail", "other-track/")
	require.NoError(t, err)
	assert.Len(t, others, 1)
}

func TestPublish_MediaUploadFailureWritesNoRow(t *testing.T) {
	local, media := setup(t)
	store := &failingStore{Store: local, failPutBucket: "tracks"}
	repo := newFakeRepo()
	p := NewPublisher(store, repo, "tracks", "thumbnail", 2<<20)

	_, err := p.Publish(context.Background(), request(media, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrExternal))
	assert.Empty(t, repo.tracks)
}

func TestPublish_MediaUploadFailureRemovesNewThumbnail(t *testing.T) {
	local, media := setup(t)
	store := &failingStore{Store: local, failPutBucket: "tracks"}
	repo := newFakeRepo()
	p := NewPublisher(store, repo, "tracks", "thumbnail", 2<<20)

	_, err := p.Publish(context.Background(), request(media, jpeg("c.jpg")))
	require.Error(t, err)
	assert.Empty(t, repo.tracks)

	objs, err := local.List(context.Background(), "thumbnail", trackID+"/")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestPublish_ThumbnailFailureStopsBeforeMedia(t *testing.T) {
	local, media := setup(t)
	store := &failingStore{Store: local, failPutBucket: "thumbnail"}
	repo := newFakeRepo()
	p := NewPublisher(store, repo, "tracks", "thumbnail", 2<<20)

	_, err := p.Publish(context.Background(), request(media, jpeg("c.jpg")))
	require.Error(t, err)
	assert.Empty(t, repo.tracks)

	objs, _ := local.List(context.Background(), "tracks", "")
	assert.Empty(t, objs)
}

func TestPublish_MetadataFailureCompensates(t *testing.T) {
	store, media := setup(t)
	repo := newFakeRepo()
	repo.err = errors.New("connection reset")
	p := NewPublisher(store, repo, "tracks", "thumbnail", 2<<20)

	_, err := p.Publish(context.Background(), request(media, jpeg("c.png")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrExternal))

	ctx := context.Background()
	_, err = store.Stat(ctx, "tracks", MediaKey(trackID))
	assert.True(t, errors.Is(err, storage.ErrObjectNotFound), "media blob removed")
	objs, _ := store.List(ctx, "thumbnail", trackID+"/")
	assert.Empty(t, objs, "thumbnail blob removed")
}

func TestPublish_CompensationFailureReturnsOriginalError(t *testing.T) {
	local, media := setup(t)
	store := &failingStore{Store: local, failDelete: true}
	repo := newFakeRepo()
	repo.err = errors.New("disk full")
	p := NewPublisher(store, repo, "tracks", "thumbnail", 2<<20)

	_, err := p.Publish(context.Background(), request(media, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestPublish_MissingMediaFile(t *testing.T) {
	store, _ := setup(t)
	p := NewPublisher(store, newFakeRepo(), "tracks", "thumbnail", 2<<20)

	_, err := p.Publish(context.Background(), request("/nonexistent/song.aac", nil))
	assert.True(t, errors.Is(err, errs.ErrIO))
}

func TestThumbnailValidate(t *testing.T) {
	ok := jpeg("a.jpg")
	assert.NoError(t, ok.Validate(10))

	tests := map[string]*Thumbnail{
		"Empty":    {Filename: "a.jpg", ContentType: "image/jpeg"},
		"NotImage": {Filename: "a.pdf", ContentType: "application/pdf", Data: []byte("x")},
		"BadMime":  {Filename: "a.jpg", ContentType: ";;", Data: []byte("x")},
		"TooLarge": {Filename: "a.jpg", ContentType: "image/jpeg", Data: make([]byte, 11)},
	}
	for name, th := range tests {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.Is(th.Validate(10), errs.ErrInvalidInput))
		})
	}
}

func TestThumbnailExt(t *testing.T) {
	assert.Equal(t, "png", (&Thumbnail{Filename: "Cover.PNG"}).Ext())
	assert.Equal(t, "jpg", (&Thumbnail{Filename: "cover"}).Ext())
	assert.Equal(t, "jpg", (&Thumbnail{}).Ext())
}
