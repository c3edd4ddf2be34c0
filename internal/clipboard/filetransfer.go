package clipboard

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/rdperrors"
)

// FileContentsRequestType distinguishes the two FileContentsRequest
// kinds RDPECLIP defines: a file's size, or a byte range of its data.
type FileContentsRequestType int

const (
	FileContentsSize FileContentsRequestType = iota
	FileContentsRange
)

// FileTransfer tracks one outstanding CF_HDROP file-contents stream.
// Correlation uses a ulid rather than a small integer so concurrent
// transfers never collide even under heavy paste activity (spec §4.4.6).
// The format-data FIFO correlation queues in state.go do not use IDs;
// they rely on list order alone.
type FileTransfer struct {
	ID       ulid.ULID
	FilePath string
	Size     int64

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// Manager tracks in-flight file transfers by correlation ID.
type Manager struct {
	mu        sync.Mutex
	transfers map[ulid.ULID]*FileTransfer
	entropy   io.Reader
}

// NewManager creates an empty file-transfer manager.
func NewManager() *Manager {
	return &Manager{
		transfers: make(map[ulid.ULID]*FileTransfer),
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// Begin opens filePath (must fit files larger than memory — streamed,
// never fully buffered) and registers a new transfer, returning its
// correlation ID.
func (m *Manager) Begin(filePath string) (ulid.ULID, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return ulid.ULID{}, rdperrors.Wrap(rdperrors.ClipboardRequest, err, "open file for transfer")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return ulid.ULID{}, rdperrors.Wrap(rdperrors.ClipboardRequest, err, "stat file for transfer")
	}

	m.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(timeNow()), m.entropy)
	m.transfers[id] = &FileTransfer{ID: id, FilePath: filePath, Size: info.Size(), file: f}
	m.mu.Unlock()

	return id, nil
}

// timeNow is split out so tests can substitute a deterministic clock
// without touching ulid's monotonic entropy source.
var timeNow = time.Now

// Size returns a transfer's total size, for a FileContentsSize request.
func (m *Manager) Size(id ulid.ULID) (int64, error) {
	t, err := m.get(id)
	if err != nil {
		return 0, err
	}
	return t.Size, nil
}

// ReadRange reads length bytes at offset, for a FileContentsRange
// request. Reads are independent (no required ordering), so concurrent
// range requests against the same transfer are safe.
func (m *Manager) ReadRange(id ulid.ULID, offset int64, length int) ([]byte, error) {
	t, err := m.get(id)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, rdperrors.New(rdperrors.ClipboardRequest, "transfer closed")
	}

	buf := make([]byte, length)
	n, err := t.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, rdperrors.Wrap(rdperrors.ClipboardRequest, err, "read file range")
	}
	return buf[:n], nil
}

func (m *Manager) get(id ulid.ULID) (*FileTransfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok {
		return nil, rdperrors.New(rdperrors.ClipboardRequest, fmt.Sprintf("unknown transfer %s", id))
	}
	return t, nil
}

// End closes and forgets a transfer. Partial-content retry semantics are
// left to the caller per spec §9's open question: this manager does not
// retry a failed ReadRange itself, it only reports the error, since the
// spec defers the exact retry policy decision.
func (m *Manager) End(id ulid.ULID) {
	m.mu.Lock()
	t, ok := m.transfers[id]
	if ok {
		delete(m.transfers, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	t.mu.Lock()
	t.closed = true
	t.file.Close()
	t.mu.Unlock()
}
