// Package storage is the note store: Markdown files under the vault root.
package storage

import "github.com/DylanDDeng/notely-sub000/internal/models"

// Provider is the vault file interface. All paths are relative to the
// vault root; hidden directories such as .git and .history are off limits.
type Provider interface {
	Root() string
	List(dir string) ([]models.NoteMetadata, error)
	Read(path string) ([]byte, error)
	Write(path string, content []byte) error
	Delete(path string) error
	Move(oldPath, newPath string) error
}
