package sandbox

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/runspace/core/pkg/protocol"
)

// FileResult is the structured outcome of a filesystem primitive. Which of
// its typed fields are meaningful depends on the primitive that produced it
// (it never escapes across the boundary as a Go error for an
// execution-level failure — spec §4.3 "Failure semantics").
type FileResult struct {
	Success      bool
	Error        string
	BytesWritten int64
	Content      string
	Encoding     protocol.Encoding
	Size         int64
	EditsApplied int
}

// resolvePath validates that relPath, joined onto the workspace root,
// still resolves under that root (spec §4.3 "Path safety": a string-prefix
// check after join). A path that fails protocol.ValidatePath or escapes
// the workspace never reaches the filesystem.
func (s *Sandbox) resolvePath(relPath string) (string, error) {
	if err := protocol.ValidatePath(relPath); err != nil {
		return "", err
	}

	root, err := filepath.Abs(s.workspace)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(root, relPath)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path is outside workspace")
	}

	return abs, nil
}

// CreateFile writes content to relPath, decoded per encoding. It fails if
// the file already exists and overwrite is false (spec §4.3 "createFile",
// §8 invariant 6).
func (s *Sandbox) CreateFile(relPath, content string, encoding protocol.Encoding, overwrite bool) FileResult {
	abs, err := s.resolvePath(relPath)
	if err != nil {
		return FileResult{Error: "Path is outside workspace"}
	}

	if !overwrite {
		if _, err := os.Stat(abs); err == nil {
			return FileResult{Error: "File already exists"}
		}
	}

	raw, err := decodeContent(content, encoding)
	if err != nil {
		return FileResult{Error: err.Error()}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return FileResult{Error: err.Error()}
	}

	if err := os.WriteFile(abs, raw, 0o644); err != nil {
		return FileResult{Error: err.Error()}
	}

	return FileResult{Success: true, BytesWritten: int64(len(raw))}
}

// ReadFile returns relPath's content encoded per encoding, plus its byte
// size (spec §4.3 "readFile").
func (s *Sandbox) ReadFile(relPath string, encoding protocol.Encoding) FileResult {
	abs, err := s.resolvePath(relPath)
	if err != nil {
		return FileResult{Error: "Path is outside workspace"}
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return FileResult{Error: "File not found"}
		}
		return FileResult{Error: err.Error()}
	}

	return FileResult{
		Success:  true,
		Content:  encodeContent(raw, encoding),
		Encoding: encoding,
		Size:     int64(len(raw)),
	}
}

// EditFile applies each edit in order, replacing the first occurrence of
// oldContent with newContent, aborting on the first edit whose oldContent
// is not found in the current buffer (spec §4.3 "editFile", §8 invariant
// 5: on success editsApplied == len(edits)).
func (s *Sandbox) EditFile(relPath string, edits []protocol.Edit) FileResult {
	abs, err := s.resolvePath(relPath)
	if err != nil {
		return FileResult{Error: "Path is outside workspace"}
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return FileResult{Error: "File not found"}
		}
		return FileResult{Error: err.Error()}
	}

	buffer := string(raw)
	applied := 0
	for _, edit := range edits {
		idx := strings.Index(buffer, edit.OldContent)
		if idx < 0 {
			probe := edit.OldContent
			if len(probe) > 50 {
				probe = probe[:50]
			}
			return FileResult{Error: fmt.Sprintf("Edit content not found: %q", probe), EditsApplied: applied}
		}
		buffer = buffer[:idx] + edit.NewContent + buffer[idx+len(edit.OldContent):]
		applied++
	}

	if err := os.WriteFile(abs, []byte(buffer), 0o644); err != nil {
		return FileResult{Error: err.Error()}
	}

	return FileResult{Success: true, EditsApplied: applied, Size: int64(len(buffer))}
}

// DeleteFile removes relPath (spec §4.3 "deleteFile").
func (s *Sandbox) DeleteFile(relPath string) FileResult {
	abs, err := s.resolvePath(relPath)
	if err != nil {
		return FileResult{Error: "Path is outside workspace"}
	}

	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return FileResult{Error: "File not found"}
		}
		return FileResult{Error: err.Error()}
	}

	if err := os.Remove(abs); err != nil {
		return FileResult{Error: err.Error()}
	}

	return FileResult{Success: true}
}

// DirEntry is one entry returned by ListFiles.
type DirEntry struct {
	Path        string
	Size        int64
	IsDirectory bool
	ModifiedAt  time.Time
}

// ListFiles lists relDir's entries, recursing depth-first pre-order when
// recursive is true. An empty relDir lists the workspace root. A missing
// directory returns an empty list rather than an error (spec §4.3
// "listFiles").
func (s *Sandbox) ListFiles(relDir string, recursive bool) []DirEntry {
	var abs string
	var err error
	if relDir == "" {
		abs, err = filepath.Abs(s.workspace)
	} else {
		abs, err = s.resolvePath(relDir)
	}
	if err != nil {
		return nil
	}

	if _, err := os.Stat(abs); err != nil {
		return nil
	}

	var entries []DirEntry
	s.walk(abs, relDir, recursive, &entries)
	return entries
}

func (s *Sandbox) walk(absDir, relDir string, recursive bool, out *[]DirEntry) {
	children, err := os.ReadDir(absDir)
	if err != nil {
		return
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })

	for _, child := range children {
		childRel := filepath.Join(relDir, child.Name())
		info, err := child.Info()
		if err != nil {
			continue
		}

		*out = append(*out, DirEntry{
			Path:        childRel,
			Size:        info.Size(),
			IsDirectory: child.IsDir(),
			ModifiedAt:  info.ModTime(),
		})

		if child.IsDir() && recursive {
			s.walk(filepath.Join(absDir, child.Name()), childRel, recursive, out)
		}
	}
}

func decodeContent(content string, encoding protocol.Encoding) ([]byte, error) {
	switch encoding {
	case protocol.EncodingBase64:
		return base64.StdEncoding.DecodeString(content)
	default:
		return []byte(content), nil
	}
}

func encodeContent(raw []byte, encoding protocol.Encoding) string {
	switch encoding {
	case protocol.EncodingBase64:
		return base64.StdEncoding.EncodeToString(raw)
	default:
		return string(raw)
	}
}
