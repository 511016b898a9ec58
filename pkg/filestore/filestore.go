package filestore

import (
	"context"
	"fmt"

	"github.com/mbenito/stemtune/pkg/filestore/local"
)

type fs interface {
	Put(ctx context.Context, path, name string) error
	Get(ctx context.Context, path, name string) error
}

// Store keeps uploaded originals and downloaded renders keyed by song id.
type Store struct {
	fs fs
}

func New(typ, conn string, debug bool) (*Store, error) {
	var fs fs
	switch typ {
	case "local":
		fs = local.New(conn, debug)
	default:
		return nil, fmt.Errorf("filestore: unknown filestore type %q", typ)
	}
	return &Store{fs: fs}, nil
}

// SetOriginal stores the uploaded source file for a song.
func (s *Store) SetOriginal(ctx context.Context, path, id string) error {
	return s.fs.Put(ctx, path, original(id))
}

// GetOriginal copies the uploaded source file for a song to path.
func (s *Store) GetOriginal(ctx context.Context, path, id string) error {
	return s.fs.Get(ctx, path, original(id))
}

// SetMix stores a rendered mix for a song.
func (s *Store) SetMix(ctx context.Context, path, id string) error {
	return s.fs.Put(ctx, path, mixName(id))
}

// GetMix copies a rendered mix for a song to path.
func (s *Store) GetMix(ctx context.Context, path, id string) error {
	return s.fs.Get(ctx, path, mixName(id))
}

func original(id string) string {
	return fmt.Sprintf("original_%s.mp3", id)
}

func mixName(id string) string {
	return fmt.Sprintf("mix_%s.wav", id)
}
