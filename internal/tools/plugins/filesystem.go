package plugins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/xiaot623/gogo/gateway/internal/tools"
)

const maxReadBytes = 1 << 20

var errOutsideWorkspace = errors.New("access denied: path outside workspace")

// FileEntry describes one directory entry.
type FileEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size *int64 `json:"size,omitempty"`
}

// Filesystem exposes file operations confined to a base directory.
type Filesystem struct {
	basePath string
	root     *os.Root
	log      logr.Logger
}

// NewFilesystem creates the filesystem plugin. The directory is created on Init.
func NewFilesystem(basePath string, log logr.Logger) *Filesystem {
	return &Filesystem{basePath: basePath, log: log.WithName("filesystem")}
}

func (f *Filesystem) Name() string { return "filesystem" }

func (f *Filesystem) Init(ctx context.Context) error {
	if err := os.MkdirAll(f.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	root, err := os.OpenRoot(f.basePath)
	if err != nil {
		return fmt.Errorf("failed to open workspace: %w", err)
	}
	f.root = root
	f.log.Info("filesystem plugin initialized", "base_path", f.basePath)
	return nil
}

func (f *Filesystem) Close() error {
	if f.root == nil {
		return nil
	}
	return f.root.Close()
}

func (f *Filesystem) Tools() []tools.Tool {
	return []tools.Tool{
		tools.NewTool("fs.read_file", "Read the contents of a file in the workspace.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string", "description": "Path relative to the workspace"},
			},
			"required": []string{"file_path"},
		}, f.readFile),
		tools.NewTool("fs.write_file", "Write content to a file in the workspace, creating parent directories.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path": map[string]any{"type": "string", "description": "Path relative to the workspace"},
				"content":   map[string]any{"type": "string", "description": "Content to write"},
			},
			"required": []string{"file_path", "content"},
		}, f.writeFile),
		tools.NewTool("fs.list_dir", "List the contents of a workspace directory.", map[string]any{
			"type": "object",
			"properties": map[string]any{
				"directory": map[string]any{"type": "string", "description": "Directory relative to the workspace (default: root)"},
			},
		}, f.listDir),
	}
}

// clean maps a model-supplied path to a workspace-relative one. Absolute
// paths are accepted only inside basePath.
func clean(basePath, p string) (string, error) {
	p = strings.TrimSpace(p)
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(filepath.Clean(basePath), filepath.Clean(p))
		if err != nil {
			return "", errOutsideWorkspace
		}
		p = rel
	}
	rel := path.Clean(filepath.ToSlash(p))
	if rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return "", errOutsideWorkspace
	}
	return rel, nil
}

func (f *Filesystem) readFile(ctx context.Context, args map[string]any) (any, error) {
	p, err := tools.StringArg(args, "file_path")
	if err != nil {
		return nil, err
	}
	rel, err := f.resolve(p)
	if err != nil {
		return nil, err
	}

	file, err := f.root.Open(rel)
	if err != nil {
		return nil, f.mapErr(p, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", p)
	}
	data, err := io.ReadAll(io.LimitReader(file, maxReadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	if len(data) > maxReadBytes {
		return nil, fmt.Errorf("file %s is larger than %d bytes", p, maxReadBytes)
	}
	f.log.V(1).Info("read file", "path", rel, "size", len(data))
	return string(data), nil
}

func (f *Filesystem) writeFile(ctx context.Context, args map[string]any) (any, error) {
	p, err := tools.StringArg(args, "file_path")
	if err != nil {
		return nil, err
	}
	content, ok := args["content"].(string)
	if !ok {
		return nil, fmt.Errorf("argument %q must be a string", "content")
	}
	rel, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	if rel == "." {
		return nil, fmt.Errorf("file_path must name a file")
	}

	if dir := path.Dir(rel); dir != "." {
		if err := f.root.MkdirAll(dir, 0o755); err != nil {
			return nil, f.mapErr(p, err)
		}
	}
	if err := f.root.WriteFile(rel, []byte(content), 0o644); err != nil {
		return nil, f.mapErr(p, err)
	}
	f.log.V(1).Info("wrote file", "path", rel, "size", len(content))
	return map[string]any{"success": true, "path": rel, "size": len(content)}, nil
}

func (f *Filesystem) listDir(ctx context.Context, args map[string]any) (any, error) {
	p := tools.OptionalStringArg(args, "directory", ".")
	rel, err := f.resolve(p)
	if err != nil {
		return nil, err
	}

	dir, err := f.root.Open(rel)
	if err != nil {
		return nil, f.mapErr(p, err)
	}
	defer dir.Close()

	info, err := dir.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", p)
	}
	entries, err := dir.ReadDir(-1)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", p, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	items := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		item := FileEntry{Name: e.Name(), Type: "file"}
		if e.IsDir() {
			item.Type = "directory"
		} else if fi, err := e.Info(); err == nil {
			size := fi.Size()
			item.Size = &size
		}
		items = append(items, item)
	}
	return items, nil
}

func (f *Filesystem) resolve(p string) (string, error) {
	if f.root == nil {
		return "", fmt.Errorf("filesystem plugin is not initialized")
	}
	return clean(f.basePath, p)
}

func (f *Filesystem) mapErr(p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("file not found: %s", p)
	case strings.Contains(err.Error(), "escapes from parent"):
		return errOutsideWorkspace
	default:
		return fmt.Errorf("%s: %w", p, err)
	}
}
