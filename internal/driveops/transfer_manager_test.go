package driveops

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/vdrive/internal/cache"
	"github.com/tonimelisma/vdrive/internal/drive"
	"github.com/tonimelisma/vdrive/internal/remote"
	"github.com/tonimelisma/vdrive/internal/remote/memory"
	"github.com/tonimelisma/vdrive/internal/vfs"
)

// testLogger returns a debug-level logger that writes to t.Log,
// so all activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

var errConnReset = errors.New("connection reset by peer")

// faultDriver injects transient failures into transfer handles and counts
// the handles opened.
type faultDriver struct {
	remote.Driver

	mu            gosync.Mutex
	readBudgets   []int // per opened read handle; bytes served before failing
	writeBudgets  []int // per opened write handle
	invalidWrites bool

	downloads atomic.Int32
	uploads   atomic.Int32
	hashers   atomic.Int32
}

func (f *faultDriver) Hasher(ctx context.Context) (vfs.Hasher, error) {
	f.hashers.Add(1)
	return f.Driver.Hasher(ctx)
}

func (f *faultDriver) Download(ctx context.Context, n *vfs.Node) (vfs.ReadableFile, error) {
	f.downloads.Add(1)

	r, err := f.Driver.Download(ctx, n)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.readBudgets) == 0 {
		return r, nil
	}

	budget := f.readBudgets[0]
	f.readBudgets = f.readBudgets[1:]

	return &flakyReader{ReadableFile: r, budget: budget}, nil
}

func (f *faultDriver) Upload(
	ctx context.Context, parent *vfs.Node, name string, opts remote.UploadOptions,
) (vfs.WritableFile, error) {
	f.uploads.Add(1)

	w, err := f.Driver.Upload(ctx, parent, name, opts)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return &flakyWriter{WritableFile: w, budgets: f.writeBudgets, invalid: f.invalidWrites}, nil
}

type flakyReader struct {
	vfs.ReadableFile
	budget int
}

func (r *flakyReader) Read(p []byte) (int, error) {
	if r.budget <= 0 {
		return 0, &vfs.TransferError{Err: errConnReset}
	}

	if len(p) > r.budget {
		p = p[:r.budget]
	}

	n, err := r.ReadableFile.Read(p)
	r.budget -= n

	return n, err
}

// flakyWriter accepts budgets[0] bytes, then fails once and moves on to the
// next budget. With no budgets left it passes everything through.
type flakyWriter struct {
	vfs.WritableFile
	budgets []int
	invalid bool
	writes  int
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	w.writes++

	if w.invalid {
		return 0, &vfs.TransferError{Invalid: true, Err: errors.New("upload session expired")}
	}

	if len(w.budgets) == 0 {
		return w.WritableFile.Write(p)
	}

	if len(p) <= w.budgets[0] {
		w.budgets[0] -= len(p)
		return w.WritableFile.Write(p)
	}

	head := p[:w.budgets[0]]
	w.budgets = w.budgets[1:]

	n, err := w.WritableFile.Write(head)
	if err != nil {
		return n, err
	}

	return n, &vfs.TransferError{Err: errConnReset}
}

type transferHarness struct {
	drive  *drive.Drive
	mem    *memory.Driver
	faults *faultDriver
	tm     *TransferManager
}

func newTransferHarness(t *testing.T, opts TransferOptions) *transferHarness {
	t.Helper()

	logger := testLogger(t)
	mem := memory.New(10, logger)
	faults := &faultDriver{Driver: mem}

	pool := cache.NewPool(2, logger)
	t.Cleanup(pool.Close)

	c, err := cache.Open(context.Background(), filepath.Join(t.TempDir(), "cache.db"), pool, logger)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })

	d := drive.New(faults, c, logger)

	if opts.RetryBase == 0 {
		opts.RetryBase = time.Millisecond
	}

	return &transferHarness{drive: d, mem: mem, faults: faults, tm: NewTransferManager(d, d, opts, logger)}
}

func (h *transferHarness) sync(t *testing.T) {
	t.Helper()

	for _, err := range h.drive.Sync(context.Background()) {
		require.NoError(t, err)
	}
}

func (h *transferHarness) root(t *testing.T) *vfs.Node {
	t.Helper()

	n, err := h.mem.FetchRootNode(context.Background())
	require.NoError(t, err)

	return n
}

// putRemote stores data as name in the remote root and syncs the cache.
func (h *transferHarness) putRemote(t *testing.T, name string, data []byte) *vfs.Node {
	t.Helper()

	ctx := context.Background()

	w, err := h.mem.Upload(ctx, h.root(t), name, remote.UploadOptions{Size: int64(len(data))})
	require.NoError(t, err)

	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	n, err := w.Node()
	require.NoError(t, err)

	h.sync(t)

	return n
}

func writeLocal(t *testing.T, name string, data []byte) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))

	return p
}

func TestDownload_RoundTripIsIdempotent(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{ChunkSize: 4})
	n := h.putRemote(t, "notes.txt", []byte("hello, drive"))
	dir := t.TempDir()

	target, err := h.tm.Download(context.Background(), n, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes.txt"), target)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello, drive", string(got))
	assert.NoFileExists(t, PartialPath(dir, "notes.txt"))

	again, err := h.tm.Download(context.Background(), n, dir)
	require.NoError(t, err)
	assert.Equal(t, target, again)
	assert.Equal(t, int32(1), h.faults.downloads.Load(), "an existing file is not fetched again")
}

func TestDownload_EmptyFileSkipsRemote(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{})
	n := h.putRemote(t, "empty", nil)

	target, err := h.tm.Download(context.Background(), n, t.TempDir())
	require.NoError(t, err)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	assert.Zero(t, h.faults.downloads.Load())
}

func TestDownload_ResumesFromPartial(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{ChunkSize: 3})
	n := h.putRemote(t, "data.bin", []byte("0123456789"))
	dir := t.TempDir()

	// A marker prefix shows the existing bytes are kept, not refetched.
	require.NoError(t, os.WriteFile(PartialPath(dir, "data.bin"), []byte("ABCD"), 0o600))

	target, err := h.tm.Download(context.Background(), n, dir)
	require.NoError(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "ABCD456789", string(got))
}

func TestDownload_PartialLongerThanFileIsInvalid(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{})
	n := h.putRemote(t, "short", []byte("abc"))
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(PartialPath(dir, "short"), []byte("abcdef"), 0o600))

	_, err := h.tm.Download(context.Background(), n, dir)
	assert.ErrorIs(t, err, vfs.ErrTransferInvalid)
	assert.Zero(t, h.faults.downloads.Load())
}

func TestDownload_NonRegularOccupantConflicts(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{})
	n := h.putRemote(t, "taken", []byte("x"))
	dir := t.TempDir()

	require.NoError(t, os.Mkdir(filepath.Join(dir, "taken"), 0o700))

	_, err := h.tm.Download(context.Background(), n, dir)
	require.ErrorIs(t, err, vfs.ErrConflict)

	ce, ok := vfs.IsConflict(err)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "taken"), ce.Path)
}

func TestDownload_NameEscapingTargetDirIsRefused(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{})
	base := t.TempDir()
	dir := filepath.Join(base, "dl")

	for _, name := range []string{"a/../../escape.txt", "..", "."} {
		n := h.putRemote(t, name, []byte("payload"))

		_, err := h.tm.Download(context.Background(), n, dir)
		require.ErrorIs(t, err, vfs.ErrTransferInvalid, name)
		assert.ErrorIs(t, err, vfs.ErrInvalidName, name)
	}

	assert.NoFileExists(t, filepath.Join(base, "escape.txt"))
	assert.NoDirExists(t, dir, "nothing is created before the name is checked")
	assert.Zero(t, h.faults.downloads.Load())
}

func TestLocalPath(t *testing.T) {
	dir := t.TempDir()

	got, err := LocalPath(dir, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "notes.txt"), got)

	for _, name := range []string{"", ".", "..", "a/b", "../x", string(filepath.Separator) + "x"} {
		_, err := LocalPath(dir, name)
		assert.ErrorIs(t, err, vfs.ErrInvalidName, name)
	}
}

func TestDownload_FolderIsStructural(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{})

	_, err := h.tm.Download(context.Background(), h.root(t), t.TempDir())
	assert.ErrorIs(t, err, vfs.ErrIsFolder)
}

func TestDownload_RetriesTransientFailures(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{ChunkSize: 4, MaxRetries: 3})
	n := h.putRemote(t, "flaky.txt", []byte("abcdefghijklmnop"))

	// First handle dies after 3 bytes, the second after 5; the third is clean.
	h.faults.readBudgets = []int{3, 5}

	target, err := h.tm.Download(context.Background(), n, t.TempDir())
	require.NoError(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "abcdefghijklmnop", string(got))
	assert.Equal(t, int32(3), h.faults.downloads.Load())
}

func TestDownload_RetryBudgetIsPerChunk(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{ChunkSize: 2, MaxRetries: 1})
	n := h.putRemote(t, "steps", []byte("aabbcc"))

	// Each handle dies right after one chunk, so every step but the first
	// needs its single retry. That only works because success resets it.
	h.faults.readBudgets = []int{2, 2, 2}

	target, err := h.tm.Download(context.Background(), n, t.TempDir())
	require.NoError(t, err)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "aabbcc", string(got))
	assert.Equal(t, int32(3), h.faults.downloads.Load())
}

func TestDownload_GivesUpAfterMaxRetries(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{ChunkSize: 4, MaxRetries: 2})
	n := h.putRemote(t, "dead", []byte("abcdefgh"))
	dir := t.TempDir()

	h.faults.readBudgets = []int{0, 0, 0, 0, 0}

	_, err := h.tm.Download(context.Background(), n, dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, errConnReset)
	assert.NotErrorIs(t, err, vfs.ErrTransferInvalid)
	assert.Equal(t, int32(3), h.faults.downloads.Load(), "one attempt plus two retries")
	assert.FileExists(t, PartialPath(dir, "dead"), "the partial file is kept for the next run")
}

func TestDownload_CanceledContextStopsRetrying(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{ChunkSize: 4, MaxRetries: 50, RetryBase: time.Hour})
	n := h.putRemote(t, "slow", []byte("abcdefgh"))

	h.faults.readBudgets = []int{0}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.tm.Download(ctx, n, t.TempDir())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUpload_RoundTrip(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{ChunkSize: 5})
	h.sync(t)

	data := []byte("plain text that spans several chunks\n")
	local := writeLocal(t, "report.txt", data)

	n, err := h.tm.Upload(context.Background(), local, h.root(t), UploadFileOptions{})
	require.NoError(t, err)
	assert.Equal(t, "report.txt", n.Name)
	assert.Equal(t, int64(len(data)), n.Size)
	assert.Equal(t, "text/plain; charset=utf-8", n.MimeType)

	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), n.Hash)

	stored, ok := h.mem.Content(n.ID)
	require.True(t, ok)
	assert.Equal(t, data, stored)

	h.sync(t)

	target, err := h.tm.Download(context.Background(), n, t.TempDir())
	require.NoError(t, err)

	back, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, data, back)
}

func TestUpload_NameAndMimeOverride(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{})
	h.sync(t)

	local := writeLocal(t, "a.dat", []byte{0x00, 0x01})

	n, err := h.tm.Upload(context.Background(), local, h.root(t), UploadFileOptions{
		Name:     "renamed.bin",
		MimeType: "application/x-custom",
		Private:  map[string]string{"origin": "test"},
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed.bin", n.Name)
	assert.Equal(t, "application/x-custom", n.MimeType)
	assert.Equal(t, "test", n.Private["origin"])
}

func TestUpload_ExistingName(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{})
	existing := h.putRemote(t, "dup.txt", []byte("first"))
	local := writeLocal(t, "dup.txt", []byte("second"))

	n, err := h.tm.Upload(context.Background(), local, h.root(t), UploadFileOptions{ExistOK: true})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, n.ID)

	_, err = h.tm.Upload(context.Background(), local, h.root(t), UploadFileOptions{})
	assert.ErrorIs(t, err, vfs.ErrConflict)

	assert.Zero(t, h.faults.uploads.Load(), "the cached name short-circuits before the remote")
	assert.Zero(t, h.faults.hashers.Load(), "a taken name is reported before the file is hashed")
}

func TestUpload_InvalidNameReadsNothing(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{})
	h.sync(t)

	local := writeLocal(t, "ok.txt", []byte("data"))

	for _, name := range []string{"..", "a/b", "a/../../x"} {
		_, err := h.tm.Upload(context.Background(), local, h.root(t), UploadFileOptions{Name: name})
		assert.ErrorIs(t, err, vfs.ErrInvalidName, name)
	}

	assert.Zero(t, h.faults.hashers.Load())
	assert.Zero(t, h.faults.uploads.Load())
}

func TestUpload_ResumesFromRemoteOffset(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{ChunkSize: 4, MaxRetries: 2})
	h.sync(t)

	data := []byte("0123456789abcdef")
	local := writeLocal(t, "resume.bin", data)

	// The handle accepts 6 bytes then breaks mid-chunk, later 3 more.
	h.faults.writeBudgets = []int{6, 3}

	n, err := h.tm.Upload(context.Background(), local, h.root(t), UploadFileOptions{})
	require.NoError(t, err)

	stored, ok := h.mem.Content(n.ID)
	require.True(t, ok)
	assert.Equal(t, data, stored)
	assert.Equal(t, int32(1), h.faults.uploads.Load(), "resuming reuses the open handle")
}

func TestUpload_InvalidTransferAborts(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{ChunkSize: 4, MaxRetries: 5})
	h.sync(t)

	h.faults.invalidWrites = true
	local := writeLocal(t, "doomed", []byte("abcdefgh"))

	_, err := h.tm.Upload(context.Background(), local, h.root(t), UploadFileOptions{})
	require.ErrorIs(t, err, vfs.ErrTransferInvalid)

	h.sync(t)

	n, err := h.drive.NodeByPath(context.Background(), "/doomed")
	require.NoError(t, err)
	assert.Nil(t, n, "an aborted upload creates nothing")
}

func TestUpload_RejectsDirectories(t *testing.T) {
	h := newTransferHarness(t, TransferOptions{})
	h.sync(t)

	_, err := h.tm.Upload(context.Background(), t.TempDir(), h.root(t), UploadFileOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a regular file")
}

func TestTransfers_ConcurrentWithSharedLimiter(t *testing.T) {
	limiter, err := NewBandwidthLimiter("1MB/s", testLogger(t))
	require.NoError(t, err)

	h := newTransferHarness(t, TransferOptions{ChunkSize: 64, Limiter: limiter})

	var nodes []*vfs.Node
	for i := range 4 {
		nodes = append(nodes, h.putRemote(t, fmt.Sprintf("f%d", i), []byte(fmt.Sprintf("content %d", i))))
	}

	dir := t.TempDir()

	g, ctx := errgroup.WithContext(context.Background())
	for _, n := range nodes {
		g.Go(func() error {
			_, err := h.tm.Download(ctx, n, dir)
			return err
		})
	}

	require.NoError(t, g.Wait())

	for i := range 4 {
		got, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("f%d", i)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("content %d", i), string(got))
	}
}
