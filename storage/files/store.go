// Package files stores grade attachments on the local disk.
package files

import (
	"bytes"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/grade"
)

const maxFilenameLen = 100

var (
	ErrFileTooLarge    = core.NewValidationError(nil, core.FieldError{Field: "file", Error: "file is too large"})
	ErrTypeNotAllowed  = core.NewValidationError(nil, core.FieldError{Field: "file", Error: "only PDF, JPEG and PNG files are allowed"})
	ErrSignatureFailed = core.NewValidationError(nil, core.FieldError{Field: "file", Error: "file content does not match its type"})
	ErrOutsideRoot     = core.NewNotFoundError("file not found")
)

type fileType struct {
	mime      string
	exts      []string
	signature []byte
}

var allowedTypes = []fileType{
	{mime: "application/pdf", exts: []string{".pdf"}, signature: []byte("%PDF-")},
	{mime: "image/jpeg", exts: []string{".jpg", ".jpeg"}, signature: []byte{0xFF, 0xD8, 0xFF}},
	{mime: "image/png", exts: []string{".png"}, signature: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
}

// lookupType returns the allowed type matching both the extension and the declared MIME type.
func lookupType(ext, mime string) (fileType, bool) {
	ext = strings.ToLower(ext)
	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	for _, ft := range allowedTypes {
		if ft.mime != mime {
			continue
		}
		for _, e := range ft.exts {
			if e == ext {
				return ft, true
			}
		}
	}
	return fileType{}, false
}

// Store writes uploads under a fixed root directory.
type Store struct {
	root    string
	maxSize int64
}

func NewStore(conf *core.Config) (*Store, error) {
	root := conf.Upload.Dir
	if !filepath.IsAbs(root) {
		root = filepath.Join(conf.WorkDir, root)
	}
	return newStore(root, conf.Upload.MaxSize)
}

func newStore(root string, maxSize int64) (*Store, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolving upload dir")
	}
	if err = os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrap(err, "creating upload dir")
	}
	return &Store{root: root, maxSize: maxSize}, nil
}

func (s *Store) Root() string { return s.root }

// Save checks the extension and declared type of an upload, writes it under a random name,
// then verifies its leading bytes against the signature of the declared type.
// A file failing the signature check is deleted.
func (s *Store) Save(fh *multipart.FileHeader) (grade.Attachment, error) {
	if s.maxSize > 0 && fh.Size > s.maxSize {
		return grade.Attachment{}, ErrFileTooLarge
	}
	ext := filepath.Ext(fh.Filename)
	ft, ok := lookupType(ext, fh.Header.Get("Content-Type"))
	if !ok {
		return grade.Attachment{}, ErrTypeNotAllowed
	}

	src, err := fh.Open()
	if err != nil {
		return grade.Attachment{}, errors.Wrap(err, "opening upload")
	}
	defer func() { _ = src.Close() }()

	name := uuid.NewString() + strings.ToLower(ext)
	path := filepath.Join(s.root, name)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return grade.Attachment{}, errors.Wrap(err, "creating file")
	}

	var r io.Reader = src
	if s.maxSize > 0 {
		r = io.LimitReader(src, s.maxSize+1)
	}
	size, err := io.Copy(dst, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return grade.Attachment{}, errors.Wrap(err, "writing file")
	}
	if s.maxSize > 0 && size > s.maxSize {
		_ = os.Remove(path)
		return grade.Attachment{}, ErrFileTooLarge
	}

	if err = checkSignature(path, ft.signature); err != nil {
		_ = os.Remove(path)
		return grade.Attachment{}, err
	}

	return grade.Attachment{
		Path: name,
		Name: SafeFilename(fh.Filename),
		MIME: ft.mime,
		Size: size,
	}, nil
}

func checkSignature(path string, signature []byte) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening file")
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, len(signature))
	if _, err = io.ReadFull(f, head); err != nil || !bytes.Equal(head, signature) {
		return ErrSignatureFailed
	}
	return nil
}

// resolve returns the absolute path of a stored file; it must stay within the root.
func (s *Store) resolve(name string) (string, error) {
	if name == "" {
		return "", ErrOutsideRoot
	}
	path := filepath.Join(s.root, filepath.FromSlash(name))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return path, nil
}

// Path returns the absolute path of a stored file, for streaming.
func (s *Store) Path(name string) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if _, err = os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrOutsideRoot
		}
		return "", errors.Wrap(err, "stat file")
	}
	return path, nil
}

// Remove deletes a stored file. A missing file is not an error.
func (s *Store) Remove(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err = os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing file")
	}
	return nil
}

var _ grade.FileStore = (*Store)(nil)

// SafeFilename keeps letters, digits, '.', '-' and '_' of the base name (other characters become '_'),
// and caps its length while keeping the extension.
func SafeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	safe := strings.TrimLeft(b.String(), ".")
	if safe == "" {
		safe = "attachment"
	}
	if len(safe) > maxFilenameLen {
		ext := filepath.Ext(safe)
		if len(ext) > 10 {
			ext = ""
		}
		safe = safe[:maxFilenameLen-len(ext)] + ext
	}
	return safe
}
