package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/decred/slog"
	"github.com/rogpeppe/go-internal/lockedfile"
	"lukechampine.com/blake3"

	"wabridge/internal/domain"
)

const (
	recordFilename = "session.json"
	lockFilename   = "session.lock"
	recordMode     = 0o600
)

var (
	// ErrNotFound is returned by Load when no record has been saved.
	ErrNotFound = errors.New("no session record")

	ErrChecksum       = errors.New("session record checksum mismatch")
	ErrSealed         = errors.New("session record is sealed; passphrase required")
	ErrClosed         = errors.New("store is closed")
	errNewerVersion   = errors.New("session record written by a newer version")
	errRecordTooLarge = errors.New("session record too large")
)

const maxRecordSize = 16 << 20

// Options configures a FileStore.
type Options struct {
	// Passphrase seals the record when non-empty.
	Passphrase string

	// ScryptN overrides the scrypt cost. Zero uses the default.
	ScryptN int

	Log slog.Logger
}

// envelope is the on-disk JSON structure.
type envelope struct {
	V      int             `json:"v"`
	Sealed bool            `json:"sealed"`
	Sum    []byte          `json:"sum"`
	Record json.RawMessage `json:"record,omitempty"`
	Cipher *blob           `json:"cipher,omitempty"`
}

// FileStore persists the session record under one directory.
type FileStore struct {
	dir  string
	opts Options

	mu   sync.Mutex
	lock *lockedfile.File

	sealer sealer
	// last is the compact JSON of the record last read or written. The
	// directory lock makes this store its only writer.
	last []byte
}

// Open locks dir and returns a store rooted there. It waits for another
// holder of the lock to release it until ctx ends.
func Open(ctx context.Context, dir string, opts Options) (*FileStore, error) {
	if opts.Log == nil {
		opts.Log = slog.Disabled
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	type result struct {
		f   *lockedfile.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := lockedfile.OpenFile(filepath.Join(dir, lockFilename), os.O_RDWR|os.O_CREATE, recordMode)
		ch <- result{f, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("lock session dir: %w", r.err)
		}
		opts.Log.Debugf("Locked session dir %s", dir)
		return &FileStore{
			dir:    dir,
			opts:   opts,
			lock:   r.f,
			sealer: sealer{passphrase: opts.Passphrase},
		}, nil
	case <-ctx.Done():
		// Release the lock if it is granted after we gave up.
		go func() {
			if r := <-ch; r.f != nil {
				_ = r.f.Close()
			}
		}()
		return nil, fmt.Errorf("lock session dir: %w", ctx.Err())
	}
}

// Dir returns the directory the store owns.
func (s *FileStore) Dir() string { return s.dir }

// Close releases the directory lock.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return nil
	}
	err := s.lock.Close()
	s.lock = nil
	return err
}

// Load reads and verifies the record.
func (s *FileStore) Load() (domain.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return domain.SessionRecord{}, ErrClosed
	}
	return s.load()
}

func (s *FileStore) load() (domain.SessionRecord, error) {
	fatal := func(err error) (domain.SessionRecord, error) {
		return domain.SessionRecord{}, domain.FatalSessionError{Err: err}
	}

	b, err := readRecordFile(filepath.Join(s.dir, recordFilename), maxRecordSize)
	if err != nil {
		return fatal(err)
	}
	if b == nil {
		return domain.SessionRecord{}, ErrNotFound
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fatal(fmt.Errorf("decode envelope: %w", err))
	}
	if env.V > domain.SessionRecordVersion {
		return fatal(fmt.Errorf("%w: %d", errNewerVersion, env.V))
	}

	var raw []byte
	if env.Sealed {
		if s.opts.Passphrase == "" {
			return fatal(ErrSealed)
		}
		if env.Cipher == nil {
			return fatal(errors.New("sealed record has no cipher"))
		}
		if raw, err = s.sealer.unseal(env.Cipher, env.Sum); err != nil {
			return fatal(err)
		}
	} else {
		// The envelope is indented on disk; the sum covers the compact form.
		var buf bytes.Buffer
		if err := json.Compact(&buf, env.Record); err != nil {
			return fatal(fmt.Errorf("decode record: %w", err))
		}
		raw = buf.Bytes()
	}

	sum := blake3.Sum256(raw)
	if !bytes.Equal(env.Sum, sum[:]) {
		return fatal(ErrChecksum)
	}

	var rec domain.SessionRecord
	rec, err := decodeRecord(raw)
	if err != nil {
		return fatal(err)
	}
	s.last = raw
	return rec, nil
}

// cached returns a private copy of the record last read or written, loading
// it from disk when nothing is cached.
func (s *FileStore) cached() (domain.SessionRecord, error) {
	if s.last == nil {
		return s.load()
	}
	rec, err := decodeRecord(s.last)
	if err != nil {
		return domain.SessionRecord{}, domain.FatalSessionError{Err: err}
	}
	return rec, nil
}

func decodeRecord(raw []byte) (domain.SessionRecord, error) {
	var rec domain.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("decode record: %w", err)
	}
	if rec.Version > domain.SessionRecordVersion {
		return rec, fmt.Errorf("%w: %d", errNewerVersion, rec.Version)
	}
	if rec.Sessions == nil {
		rec.Sessions = make(map[domain.JID]domain.PeerSession)
	}
	return rec, nil
}

// Save atomically replaces the record.
func (s *FileStore) Save(rec domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return ErrClosed
	}
	return s.save(rec)
}

func (s *FileStore) save(rec domain.SessionRecord) error {
	if rec.Version == 0 {
		rec.Version = domain.SessionRecordVersion
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	sum := blake3.Sum256(raw)
	env := envelope{V: domain.SessionRecordVersion, Sum: sum[:]}

	if s.opts.Passphrase != "" {
		params := defaultKDF()
		if s.opts.ScryptN > 0 {
			params.N = s.opts.ScryptN
		}
		bl, err := s.sealer.seal(raw, env.Sum, params)
		if err != nil {
			return err
		}
		env.Sealed = true
		env.Cipher = bl
	} else {
		env.Record = raw
	}
	if err := replaceJSON(filepath.Join(s.dir, recordFilename), env, recordMode); err != nil {
		s.last = nil
		return err
	}
	s.last = raw
	s.opts.Log.Tracef("Saved session record (sealed=%v)", env.Sealed)
	return nil
}

// Clear removes the record and any temp files left by an interrupted save.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock == nil {
		return ErrClosed
	}
	s.last = nil
	path := filepath.Join(s.dir, recordFilename)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	for _, f := range tempLeftovers(path) {
		_ = os.Remove(f)
	}
	s.opts.Log.Infof("Cleared session record in %s", s.dir)
	return syncDir(s.dir)
}

// Compile-time assertion that FileStore implements domain.SessionStore.
var _ domain.SessionStore = (*FileStore)(nil)
