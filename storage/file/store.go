// Package file persists session snapshots as keyed JSON blobs, one
// file per key under a state directory.
package file

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/adwski/quiz-session/model"
	"github.com/adwski/quiz-session/session"
)

const (
	roomFile  = "room.json"
	adminFile = "admin.json"

	defaultDirMode  = 0o700
	defaultFileMode = 0o600
)

var (
	ErrRead  = errors.New("unable to read snapshot")
	ErrWrite = errors.New("unable to write snapshot")
)

// Store implements session.Snapshots on the local filesystem.
type Store struct {
	mx  sync.Mutex
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return nil, errors.Join(ErrWrite, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) SaveRoom(room *model.Room) error {
	return s.write(roomFile, room)
}

func (s *Store) LoadRoom() (*model.Room, error) {
	var room model.Room
	if err := s.read(roomFile, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Store) SaveAdmin(rec *model.AdminRecord) error {
	return s.write(adminFile, rec)
}

func (s *Store) LoadAdmin() (*model.AdminRecord, error) {
	var rec model.AdminRecord
	if err := s.read(adminFile, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Purge removes both snapshots. Missing files are not an error.
func (s *Store) Purge() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	for _, name := range []string{roomFile, adminFile} {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Join(ErrWrite, err)
		}
	}
	return nil
}

func (s *Store) write(name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Join(ErrWrite, err)
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	if err = os.WriteFile(filepath.Join(s.dir, name), b, defaultFileMode); err != nil {
		return errors.Join(ErrWrite, err)
	}
	return nil
}

func (s *Store) read(name string, v any) error {
	s.mx.Lock()
	b, err := os.ReadFile(filepath.Join(s.dir, name))
	s.mx.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return session.ErrNoSnapshot
		}
		return errors.Join(ErrRead, err)
	}
	if err = json.Unmarshal(b, v); err != nil {
		return errors.Join(ErrRead, err)
	}
	return nil
}
