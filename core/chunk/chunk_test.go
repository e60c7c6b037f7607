package chunk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"TrackHub/core/lock"
	"TrackHub/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTrackID = "0b5e7c1e-8f5a-4c1d-9a57-2f1f3f9e6a10"

var testExts = []string{".mp4", ".mp3"}

func upload(name, body string) Upload {
	return Upload{
		Name: name,
		Size: int64(len(body)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
	}
}

func TestParsePartName(t *testing.T) {
	tests := []struct {
		name  string
		ok    bool
		base  string
		index int
	}{
		{"song.mp4", true, "song.mp4", 0},
		{"song.mp4.part0", true, "song.mp4", 0},
		{"song.mp4.part12", true, "song.mp4", 12},
		{"SONG.MP3", true, "SONG.MP3", 0},
		{"song.mp4.partx", false, "", 0},
		{"song.txt", false, "", 0},
		{".part3", false, "", 0},
		{".mp4", false, "", 0},
		{"noext", false, "", 0},
		{"...part1", true, "..", 1},
		{"..part2", true, ".", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := ParsePartName(tt.name, testExts)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.base, p.Base)
				assert.Equal(t, tt.index, p.Index)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("song.mp4.part1"))
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, ".recv-123", "...part1", "..part2"} {
		assert.True(t, errors.Is(ValidateName(bad), errs.ErrInvalidInput), bad)
	}
}

func TestReceiver_Receive(t *testing.T) {
	staging := t.TempDir()
	r := NewReceiver(staging, 3, 16)

	names, err := r.Receive(context.Background(), testTrackID, []Upload{
		upload("a.mp4.part1", "bbb"),
		upload("a.mp4", "aaa"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp4.part1", "a.mp4"}, names)

	got, err := os.ReadFile(filepath.Join(staging, testTrackID, "a.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "aaa", string(got))

	// later write of the same name wins
	_, err = r.Receive(context.Background(), testTrackID, []Upload{upload("a.mp4", "AAA")})
	require.NoError(t, err)
	got, _ = os.ReadFile(filepath.Join(staging, testTrackID, "a.mp4"))
	assert.Equal(t, "AAA", string(got))

	entries, _ := os.ReadDir(filepath.Join(staging, testTrackID))
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), tempPrefix), "temp copies are removed")
	}
}

func TestReceiver_Rejects(t *testing.T) {
	staging := t.TempDir()
	r := NewReceiver(staging, 2, 4)
	ctx := context.Background()

	tests := []struct {
		name    string
		trackID string
		uploads []Upload
	}{
		{"NoFiles", testTrackID, nil},
		{"TooMany", testTrackID, []Upload{upload("a.part0", "1"), upload("a.part1", "1"), upload("a.part2", "1")}},
		{"BadTrackID", "../etc", []Upload{upload("a.part0", "1")}},
		{"BadName", testTrackID, []Upload{upload("../a.part0", "1")}},
		{"Duplicate", testTrackID, []Upload{upload("a.part0", "1"), upload("a.part0", "2")}},
		{"DeclaredTooLarge", testTrackID, []Upload{upload("a.part0", "12345")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Receive(ctx, tt.trackID, tt.uploads)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrInvalidInput), err.Error())
		})
	}

	t.Run("ActualTooLarge", func(t *testing.T) {
		u := upload("a.part0", "123456789")
		u.Size = -1
		_, err := r.Receive(ctx, testTrackID, []Upload{u})
		assert.True(t, errors.Is(err, errs.ErrInvalidInput))
		_, statErr := os.Stat(filepath.Join(staging, testTrackID, "a.part0"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("OpenFailure", func(t *testing.T) {
		u := Upload{Name: "a.part0", Size: 1, Open: func() (io.ReadCloser, error) { return nil, errors.New("boom") }}
		_, err := r.Receive(ctx, testTrackID, []Upload{u})
		assert.True(t, errors.Is(err, errs.ErrIO))
	})
}

func stage(t *testing.T, staging string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(staging, testTrackID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
}

func TestAssembler_OrdersByPartIndex(t *testing.T) {
	orders := [][]string{
		{"0", "1", "2"},
		{"2", "0", "1"},
		{"1", "2", "0"},
	}
	chunks := map[string]string{"0": "first-", "1": "second-", "2": "third"}

	for _, order := range orders {
		t.Run(strings.Join(order, ""), func(t *testing.T) {
			staging, work := t.TempDir(), t.TempDir()
			r := NewReceiver(staging, 20, 1<<20)
			for _, idx := range order {
				_, err := r.Receive(context.Background(), testTrackID, []Upload{upload("track.mp4.part"+idx, chunks[idx])})
				require.NoError(t, err)
			}

			a := NewAssembler(staging, work, testExts)
			merged, err := a.Assemble(context.Background(), testTrackID)
			require.NoError(t, err)

			assert.Equal(t, filepath.Join(work, testTrackID, "track.mp4"), merged)
			got, err := os.ReadFile(merged)
			require.NoError(t, err)
			assert.Equal(t, "first-second-third", string(got))

			_, err = os.Stat(filepath.Join(staging, testTrackID))
			assert.True(t, os.IsNotExist(err), "staging directory removed")
		})
	}
}

func TestAssembler_NumericNotLexicalOrder(t *testing.T) {
	staging, work := t.TempDir(), t.TempDir()
	stage(t, staging, map[string]string{
		"s.mp3":        "0",
		"s.mp3.part2":  "2",
		"s.mp3.part10": "A",
		"s.mp3.part1":  "1",
		"notes.txt":    "ignored",
	})

	merged, err := NewAssembler(staging, work, testExts).Assemble(context.Background(), testTrackID)
	require.NoError(t, err)
	got, _ := os.ReadFile(merged)
	assert.Equal(t, "012A", string(got))
}

func TestAssembler_NoChunks(t *testing.T) {
	t.Run("MissingDirectory", func(t *testing.T) {
		staging, work := t.TempDir(), t.TempDir()
		_, err := NewAssembler(staging, work, testExts).Assemble(context.Background(), testTrackID)
		assert.True(t, errors.Is(err, ErrNoChunks))
		assert.True(t, errors.Is(err, errs.ErrNotFound))
		_, statErr := os.Stat(filepath.Join(work, testTrackID))
		assert.True(t, os.IsNotExist(statErr), "no merged file created")
	})

	t.Run("EmptyDirectory", func(t *testing.T) {
		staging, work := t.TempDir(), t.TempDir()
		stage(t, staging, map[string]string{"readme.txt": "x"})
		_, err := NewAssembler(staging, work, testExts).Assemble(context.Background(), testTrackID)
		assert.True(t, errors.Is(err, ErrNoChunks))

		_, statErr := os.Stat(filepath.Join(staging, testTrackID))
		assert.True(t, os.IsNotExist(statErr), "staging directory removed after failed merge")
		_, statErr = os.Stat(filepath.Join(work, testTrackID))
		assert.True(t, os.IsNotExist(statErr), "no merged file created")
	})
}

func TestAssembler_DuplicatePartIndex(t *testing.T) {
	staging, work := t.TempDir(), t.TempDir()
	stage(t, staging, map[string]string{
		"a.mp4.part1": "x",
		"b.mp4.part1": "y",
		"a.mp4":       "z",
	})

	_, err := NewAssembler(staging, work, testExts).Assemble(context.Background(), testTrackID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicatePart))
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))

	_, statErr := os.Stat(filepath.Join(staging, testTrackID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAssembler_RejectsDotOnlyBase(t *testing.T) {
	staging, work := t.TempDir(), t.TempDir()
	stage(t, staging, map[string]string{"...part1": "x", "...part0": "y"})

	_, err := NewAssembler(staging, work, testExts).Assemble(context.Background(), testTrackID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing written outside the track directory")
}

func TestReceiver_RejectsDotOnlyBase(t *testing.T) {
	staging := t.TempDir()
	_, err := NewReceiver(staging, 20, 1<<20).Receive(context.Background(), testTrackID, []Upload{upload("...part1", "x")})
	assert.True(t, errors.Is(err, errs.ErrInvalidInput))
	assert.NoDirExists(t, filepath.Join(staging, testTrackID))
}

func TestAssembler_CancelledContextCleansUp(t *testing.T) {
	staging, work := t.TempDir(), t.TempDir()
	stage(t, staging, map[string]string{"a.mp4": "x", "a.mp4.part1": "y"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAssembler(staging, work, testExts).Assemble(ctx, testTrackID)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(filepath.Join(work, testTrackID, "a.mp4"))
	assert.True(t, os.IsNotExist(statErr), "partial merged file removed")
	_, statErr = os.Stat(filepath.Join(staging, testTrackID))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAssembler_LargeChunksKeepOrder(t *testing.T) {
	staging, work := t.TempDir(), t.TempDir()
	var want bytes.Buffer
	files := map[string]string{}
	for i := 0; i < 5; i++ {
		body := strings.Repeat(string(rune('a'+i)), 64<<10)
		want.WriteString(body)
		name := "big.mp4"
		if i > 0 {
			name = "big.mp4.part" + string(rune('0'+i))
		}
		files[name] = body
	}
	stage(t, staging, files)

	merged, err := NewAssembler(staging, work, testExts).Assemble(context.Background(), testTrackID)
	require.NoError(t, err)
	got, _ := os.ReadFile(merged)
	assert.True(t, bytes.Equal(want.Bytes(), got))
}

func age(t *testing.T, path string, d time.Duration) {
	t.Helper()
	old := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestJanitor_Sweep(t *testing.T) {
	staging := t.TempDir()
	stale := "11111111-1111-4111-8111-111111111111"
	fresh := "22222222-2222-4222-8222-222222222222"
	touched := "33333333-3333-4333-8333-333333333333"

	for _, id := range []string{stale, fresh, touched} {
		dir := filepath.Join(staging, id)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp4.part0"), []byte("x"), 0o644))
	}
	for _, id := range []string{stale, touched} {
		age(t, filepath.Join(staging, id, "a.mp4.part0"), 10*time.Hour)
		age(t, filepath.Join(staging, id), 10*time.Hour)
	}

	j := NewJanitor(staging, 6*time.Hour, nil)
	j.Touch(touched)

	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{stale}, removed)

	_, err = os.Stat(filepath.Join(staging, stale))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(staging, fresh))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(staging, touched))
	assert.NoError(t, err)
}

func TestJanitor_SkipsLockedSession(t *testing.T) {
	staging := t.TempDir()
	dir := filepath.Join(staging, testTrackID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	age(t, dir, 10*time.Hour)

	locker := lock.NewKeyedMutex(10 * time.Millisecond)
	unlock, err := locker.Lock(context.Background(), testTrackID)
	require.NoError(t, err)

	j := NewJanitor(staging, time.Hour, locker)
	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, removed)

	unlock()
	removed, err = j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{testTrackID}, removed)
}

func TestJanitor_MissingRoot(t *testing.T) {
	j := NewJanitor(filepath.Join(t.TempDir(), "absent"), time.Hour, nil)
	removed, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, removed)
}
