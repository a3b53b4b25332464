// Package fileguard provides scoped ownership of an open file. A Guard owns
// at most one *os.File, closes it exactly once, and can hand ownership to
// another Guard the same way a pool Handle hands over its slot.
//
//	g, err := fileguard.Create("report.json")
//	if err != nil {
//		return err
//	}
//	defer g.Close()
package fileguard

import (
	"os"

	"go.uber.org/zap"

	poolerrors "github.com/ajitpratap0/slotpool/pkg/errors"
	"github.com/ajitpratap0/slotpool/pkg/logger"
)

// Guard is the exclusive owner of one open file. The zero value owns nothing.
// A Guard is not safe for concurrent use.
type Guard struct {
	file *os.File
	name string
}

// Open opens name with the given flags and permissions. It fails with a
// file error when the file cannot be opened.
func Open(name string, flag int, perm os.FileMode) (*Guard, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, poolerrors.Wrap(err, poolerrors.ErrorTypeFile, "failed to open file").
			WithDetail("path", name)
	}
	logger.Get().Debug("file opened", zap.String("path", name))
	return &Guard{file: f, name: name}, nil
}

// Create creates or truncates name for writing.
func Create(name string) (*Guard, error) {
	return Open(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

// Valid reports whether g owns an open file.
func (g *Guard) Valid() bool {
	return g != nil && g.file != nil
}

// File returns the owned file, or nil when g is empty.
func (g *Guard) File() *os.File {
	if g == nil {
		return nil
	}
	return g.file
}

// Name returns the path the owned file was opened with.
func (g *Guard) Name() string {
	if g == nil {
		return ""
	}
	return g.name
}

// Write implements io.Writer on the owned file.
func (g *Guard) Write(p []byte) (int, error) {
	if !g.Valid() {
		return 0, poolerrors.New(poolerrors.ErrorTypeFile, "write to empty file guard")
	}
	n, err := g.file.Write(p)
	if err != nil {
		return n, poolerrors.Wrap(err, poolerrors.ErrorTypeFile, "failed to write file").
			WithDetail("path", g.name)
	}
	return n, nil
}

// Close closes the owned file and empties g. Closing an empty Guard is a
// no-op, so Close is safe to defer and to call again.
func (g *Guard) Close() error {
	if !g.Valid() {
		return nil
	}
	f, name := g.file, g.name
	g.file, g.name = nil, ""

	if err := f.Close(); err != nil {
		return poolerrors.Wrap(err, poolerrors.ErrorTypeFile, "failed to close file").
			WithDetail("path", name)
	}
	logger.Get().Debug("file closed", zap.String("path", name))
	return nil
}

// Move transfers ownership to a new Guard and leaves g empty.
func (g *Guard) Move() *Guard {
	moved := &Guard{}
	if g == nil {
		return moved
	}
	moved.file, moved.name = g.file, g.name
	g.file, g.name = nil, ""
	return moved
}

// MoveTo transfers ownership into dst, closing whatever dst owned first.
// Moving a Guard onto itself does nothing.
func (g *Guard) MoveTo(dst *Guard) error {
	if dst == nil || dst == g {
		return nil
	}
	err := dst.Close()
	if g != nil {
		dst.file, dst.name = g.file, g.name
		g.file, g.name = nil, ""
		if dst.file != nil {
			logger.Get().Debug("file moved", zap.String("path", dst.name))
		}
	}
	return err
}
