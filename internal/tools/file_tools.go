package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dileep-u-k/agent-gateway/internal/vault"
)

// maxReadBytes caps how much of a file is handed back to the model.
const maxReadBytes = 64 * 1024

// ListFilesTool enumerates the virtual file tree.
type ListFilesTool struct{ fs vault.FS }

// ReadFileTool returns the contents of one file.
type ReadFileTool struct{ fs vault.FS }

// WriteFileTool creates or replaces one file.
type WriteFileTool struct{ fs vault.FS }

// DeleteFileTool removes one file.
type DeleteFileTool struct{ fs vault.FS }

var (
	_ ToolExecutor = (*ListFilesTool)(nil)
	_ ToolExecutor = (*ReadFileTool)(nil)
	_ ToolExecutor = (*WriteFileTool)(nil)
	_ ToolExecutor = (*DeleteFileTool)(nil)
)

type listFilesArgs struct {
	Prefix string `json:"prefix,omitempty" jsonschema_description:"Only list files whose path starts with this prefix."`
}

type pathArgs struct {
	Path string `json:"path" jsonschema_description:"Slash-separated file path relative to the vault root."`
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema_description:"Slash-separated file path relative to the vault root."`
	Content string `json:"content" jsonschema_description:"The full new content of the file."`
	Mtime   string `json:"mtime,omitempty" jsonschema_description:"Optional RFC3339 modification time to stamp on the file."`
}

func NewListFilesTool(fs vault.FS) *ListFilesTool   { return &ListFilesTool{fs: fs} }
func NewReadFileTool(fs vault.FS) *ReadFileTool     { return &ReadFileTool{fs: fs} }
func NewWriteFileTool(fs vault.FS) *WriteFileTool   { return &WriteFileTool{fs: fs} }
func NewDeleteFileTool(fs vault.FS) *DeleteFileTool { return &DeleteFileTool{fs: fs} }

func (t *ListFilesTool) Definition() Tool {
	return NewFunctionTool("list_files", "Lists the files in the vault with their size and modification time.", SchemaFor(&listFilesArgs{}))
}

func (t *ListFilesTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args listFilesArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return "", fmt.Errorf("invalid arguments for list_files: %w", err)
	}
	files, err := t.fs.List(ctx)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	count := 0
	for _, f := range files {
		if args.Prefix != "" && !strings.HasPrefix(f.Path, args.Prefix) {
			continue
		}
		count++
		sb.WriteString(fmt.Sprintf("%s (%d bytes, modified %s)\n", f.Path, f.Size, f.ModTime.UTC().Format(time.RFC3339)))
	}
	if count == 0 {
		return "No files found.", nil
	}
	return sb.String(), nil
}

func (t *ReadFileTool) Definition() Tool {
	return NewFunctionTool("read_file", "Reads the content of a file in the vault.", SchemaFor(&pathArgs{}))
}

func (t *ReadFileTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args pathArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return "", fmt.Errorf("invalid arguments for read_file: %w", err)
	}
	if args.Path == "" {
		return "Error: path cannot be empty.", nil
	}
	data, err := t.fs.Read(ctx, args.Path)
	if err != nil {
		return "", err
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n[truncated]", nil
	}
	return string(data), nil
}

func (t *WriteFileTool) Definition() Tool {
	return NewFunctionTool("write_file", "Creates or overwrites a file in the vault.", SchemaFor(&writeFileArgs{}))
}

func (t *WriteFileTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args writeFileArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return "", fmt.Errorf("invalid arguments for write_file: %w", err)
	}
	if args.Path == "" {
		return "Error: path cannot be empty.", nil
	}
	var opts vault.WriteOptions
	if args.Mtime != "" {
		mtime, err := time.Parse(time.RFC3339, args.Mtime)
		if err != nil {
			return fmt.Sprintf("Error: mtime %q is not an RFC3339 timestamp.", args.Mtime), nil
		}
		opts.Mtime = mtime
	}
	if err := t.fs.Write(ctx, args.Path, []byte(args.Content), opts); err != nil {
		return "", err
	}
	return fmt.Sprintf("Wrote %d bytes to %s.", len(args.Content), args.Path), nil
}

func (t *DeleteFileTool) Definition() Tool {
	return NewFunctionTool("delete_file", "Deletes a file from the vault.", SchemaFor(&pathArgs{}))
}

func (t *DeleteFileTool) Execute(ctx context.Context, arguments string) (string, error) {
	var args pathArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return "", fmt.Errorf("invalid arguments for delete_file: %w", err)
	}
	if args.Path == "" {
		return "Error: path cannot be empty.", nil
	}
	if err := t.fs.Delete(ctx, args.Path); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted %s.", args.Path), nil
}

// decodeArgs treats an empty argument string as an empty object; some models
// send "" for tools without required parameters.
func decodeArgs(arguments string, v any) error {
	if strings.TrimSpace(arguments) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(arguments), v); err != nil {
		return errors.Join(errors.New("arguments are not a JSON object"), err)
	}
	return nil
}
