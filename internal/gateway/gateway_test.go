package gateway

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/pdfrag-go/internal/apperr"
	"github.com/54b3r/pdfrag-go/internal/objectstore"
	"github.com/54b3r/pdfrag-go/internal/queue"
	"github.com/54b3r/pdfrag-go/internal/session"
	"github.com/54b3r/pdfrag-go/internal/store"
)

// countingFs records how many files are created through it.
type countingFs struct {
	afero.Fs
	creates atomic.Int32
}

func (c *countingFs) Create(name string) (afero.File, error) {
	c.creates.Add(1)
	return c.Fs.Create(name)
}

func (c *countingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 {
		c.creates.Add(1)
	}
	return c.Fs.OpenFile(name, flag, perm)
}

type fixture struct {
	fs       *countingFs
	objects  *objectstore.Store
	db       *sql.DB
	docs     *store.SQLiteStore
	queue    *queue.SQLiteQueue
	sessions *session.Governor
	gw       *Gateway
}

func newFixture(t *testing.T, enq Enqueuer) *fixture {
	t.Helper()
	db, err := store.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{db: db, fs: &countingFs{Fs: afero.NewMemMapFs()}}
	f.docs, err = store.New(db)
	require.NoError(t, err)
	f.queue, err = queue.NewSQLite(db, queue.Config{})
	require.NoError(t, err)
	f.sessions = session.New(f.docs, 5)
	f.objects, err = objectstore.New(f.fs, "/uploads")
	require.NoError(t, err)
	if enq == nil {
		enq = f.queue
	}
	f.gw, err = New(f.objects, f.docs, enq, f.sessions, 0)
	require.NoError(t, err)
	return f
}

func (f *fixture) stored(t *testing.T) []string {
	t.Helper()
	entries, err := afero.ReadDir(f.fs, "/uploads")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (f *fixture) jobCount(t *testing.T) int {
	t.Helper()
	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	total := 0
	for _, n := range stats {
		total += n
	}
	return total
}

func pdfRequest(body []byte) Request {
	return Request{OriginalName: "My Manual.pdf", ContentType: "application/pdf", Size: int64(len(body)), Body: bytes.NewReader(body)}
}

func TestUpload_AcceptsPDF(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	body := []byte("%PDF-1.4 fake")

	res, err := f.gw.Upload(ctx, pdfRequest(body))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.Document.ID, "-My_Manual.pdf"), res.Document.ID)
	assert.Equal(t, int64(len(body)), res.Document.SizeBytes)
	assert.NotEmpty(t, res.JobID)
	assert.NotEmpty(t, res.SessionID)

	assert.Equal(t, []string{res.Document.ID}, f.stored(t))

	job, err := f.queue.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatePending, job.State)
	assert.Equal(t, queue.Payload{
		Filename:    res.Document.ID,
		Destination: "/uploads",
		Path:        "/uploads/" + res.Document.ID,
		DocumentID:  res.Document.ID,
	}, job.Payload)

	doc, err := f.docs.GetDocument(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, res.JobID, doc.JobID)
	assert.Equal(t, "My_Manual.pdf", doc.OriginalName)

	view, err := f.sessions.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, res.Document.ID, view.DocumentID)
	assert.Equal(t, 0, view.TurnCount)
}

func TestUpload_ValidationHappensBeforeAnyWrite(t *testing.T) {
	sixMB := bytes.Repeat([]byte("x"), 6<<20)
	tests := []struct {
		name string
		req  Request
	}{
		{"wrong media type", Request{OriginalName: "a.png", ContentType: "image/png", Size: 10, Body: strings.NewReader("0123456789")}},
		{"missing media type", Request{OriginalName: "a.pdf", Size: 10, Body: strings.NewReader("0123456789")}},
		{"declared 6 MB", pdfRequest(sixMB)},
		{"undeclared 6 MB", Request{OriginalName: "big.pdf", ContentType: "application/pdf", Size: -1, Body: bytes.NewReader(sixMB)}},
		{"declared small but 6 MB", Request{OriginalName: "big.pdf", ContentType: "application/pdf", Size: 10, Body: bytes.NewReader(sixMB)}},
		{"empty body", Request{OriginalName: "a.pdf", ContentType: "application/pdf", Size: -1, Body: strings.NewReader("")}},
		{"no body", Request{OriginalName: "a.pdf", ContentType: "application/pdf", Size: 10}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			_, err := f.gw.Upload(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, apperr.Validation, apperr.KindOf(err))
			assert.NotEmpty(t, apperr.Message(err, ""))
			assert.Zero(t, f.fs.creates.Load(), "the object store must not be written")
			assert.Empty(t, f.stored(t), "nothing may remain in the object store")
			assert.Zero(t, f.jobCount(t), "no job may be enqueued")
		})
	}
}

func TestUpload_ExactlyAtLimitIsAccepted(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.gw.Upload(context.Background(), pdfRequest(bytes.Repeat([]byte("x"), int(DefaultMaxBytes))))
	require.NoError(t, err)
	assert.Equal(t, 1, f.jobCount(t))
}

type failingEnqueuer struct{}

func (failingEnqueuer) Enqueue(context.Context, queue.Payload) (*queue.Job, error) {
	return nil, errors.New("database is locked")
}

func TestUpload_EnqueueFailureLeavesNoOrphan(t *testing.T) {
	f := newFixture(t, failingEnqueuer{})
	ctx := context.Background()

	_, err := f.gw.Upload(ctx, pdfRequest([]byte("%PDF-1.4")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrQueueDelivery))
	assert.Empty(t, f.stored(t))
	assert.Zero(t, countRows(t, f.db, "documents"))
	assert.Zero(t, countRows(t, f.db, "sessions"), "the session opened for the upload must be dropped")
}

type failingSessions struct{}

func (failingSessions) Create(context.Context, string, string) (*store.Session, error) {
	return nil, errors.New("disk I/O error")
}

func TestUpload_SessionFailureEnqueuesNothing(t *testing.T) {
	f := newFixture(t, nil)
	gw, err := New(f.objects, f.docs, f.queue, failingSessions{}, 0)
	require.NoError(t, err)

	_, err = gw.Upload(context.Background(), pdfRequest([]byte("%PDF-1.4")))
	require.Error(t, err)
	assert.Zero(t, f.jobCount(t), "no job may outlive a failed upload")
	assert.Empty(t, f.stored(t))
	assert.Zero(t, countRows(t, f.db, "documents"))
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestIsPDF(t *testing.T) {
	for ct, want := range map[string]bool{
		"application/pdf":               true,
		"Application/PDF":               true,
		"application/pdf; charset=utf8": true,
		"pdf":                           true,
		"application/x-pdf":             false,
		"text/plain":                    false,
		"":                              false,
	} {
		assert.Equal(t, want, IsPDF(ct), ct)
	}
}
