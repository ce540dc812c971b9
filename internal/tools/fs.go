package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"turnstile/internal/fileutil"
	"turnstile/internal/security"

	"github.com/mitchellh/mapstructure"
	"github.com/sergi/go-diff/diffmatchpatch"
	"google.golang.org/genai"
)

const defaultMaxReadBytes = 256 * 1024

// FileSystem provides write_file, read_file and generate_file, confined to
// the validator's working directory.
type FileSystem struct {
	paths        *security.PathValidator
	completer    Completer
	maxReadBytes int
}

// NewFileSystem creates the provider. completer may be nil, in which case
// generate_file is not offered.
func NewFileSystem(paths *security.PathValidator, completer Completer) *FileSystem {
	return &FileSystem{
		paths:        paths,
		completer:    completer,
		maxReadBytes: defaultMaxReadBytes,
	}
}

type writeArgs struct {
	FilePath string `mapstructure:"file_path"`
	Content  string `mapstructure:"content"`
}

type readArgs struct {
	FilePath string `mapstructure:"file_path"`
	Offset   int    `mapstructure:"offset"`
	Limit    int    `mapstructure:"limit"`
}

type generateArgs struct {
	FilePath     string `mapstructure:"file_path"`
	Instructions string `mapstructure:"instructions"`
	Language     string `mapstructure:"language"`
}

func (fs *FileSystem) ListTools() []Spec {
	specs := []Spec{
		{
			Name:        "write_file",
			Description: "Writes content to a file. Creates the file if it doesn't exist, or overwrites if it does.",
			Input: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"file_path": {Type: genai.TypeString, Description: "Path of the file to write, relative to the working directory"},
					"content":   {Type: genai.TypeString, Description: "The complete content to write to the file"},
				},
				Required: []string{"file_path", "content"},
			},
			Output:   OutputText,
			Keywords: []string{"write to", "to file", "into file", "create file", "save as", "save to"},
		},
		{
			Name:        "read_file",
			Description: "Reads a text file. Optionally returns only limit lines starting at offset (0-based).",
			Input: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"file_path": {Type: genai.TypeString, Description: "Path of the file to read"},
					"offset":    {Type: genai.TypeInteger, Description: "First line to return"},
					"limit":     {Type: genai.TypeInteger, Description: "Maximum number of lines to return"},
				},
				Required: []string{"file_path"},
			},
			Output:   OutputText,
			Keywords: []string{"read", "open file", "show file", "contents of"},
		},
	}

	if fs.completer != nil {
		specs = append(specs, Spec{
			Name:        "generate_file",
			Description: "Generates the contents of a file from instructions and writes it.",
			Input: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"file_path":    {Type: genai.TypeString, Description: "Path of the file to create"},
					"instructions": {Type: genai.TypeString, Description: "What the file should contain"},
					"language":     {Type: genai.TypeString, Description: "Programming language, if any"},
				},
				Required: []string{"file_path", "instructions"},
			},
			Output:   OutputText,
			Keywords: []string{"generate file", "scaffold"},
		})
	}
	return specs
}

func (fs *FileSystem) Execute(ctx context.Context, name string, args map[string]any) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	switch name {
	case "write_file":
		var a writeArgs
		if err := decodeArgs(args, &a); err != nil {
			return NewErrorResult(err.Error()), nil
		}
		return fs.write(a.FilePath, a.Content)
	case "read_file":
		var a readArgs
		if err := decodeArgs(args, &a); err != nil {
			return NewErrorResult(err.Error()), nil
		}
		return fs.read(a)
	case "generate_file":
		if fs.completer == nil {
			return NewErrorResult("generate_file is not available"), nil
		}
		var a generateArgs
		if err := decodeArgs(args, &a); err != nil {
			return NewErrorResult(err.Error()), nil
		}
		return fs.generate(ctx, a)
	default:
		return Result{}, fmt.Errorf("file system provider has no tool %q", name)
	}
}

func (fs *FileSystem) write(path, content string) (Result, error) {
	abs, err := fs.paths.Validate(path)
	if err != nil {
		return NewErrorResult(fmt.Sprintf("path validation failed: %s", err)), nil
	}
	rel := fs.display(abs)

	var old []byte
	isNew := false
	if info, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
		isNew = true
	} else if err != nil {
		return NewErrorResult(fmt.Sprintf("error checking file: %s", err)), nil
	} else if info.IsDir() {
		return NewErrorResult(fmt.Sprintf("%s is a directory", rel)), nil
	} else if old, err = os.ReadFile(abs); err != nil {
		return NewErrorResult(fmt.Sprintf("error reading existing file: %s", err)), nil
	}

	if err := fileutil.WriteFile(abs, []byte(content), 0); err != nil {
		return NewErrorResult(fmt.Sprintf("error writing file: %s", err)), nil
	}

	res := NewSuccessResult("")
	res.Data = map[string]any{
		"path":    rel,
		"bytes":   len(content),
		"created": isNew,
	}
	if isNew {
		res.Payload = fmt.Sprintf("Created new file: %s (%d bytes)", rel, len(content))
		return res, nil
	}

	added, removed := lineChanges(string(old), content)
	res.Data["lines_added"] = added
	res.Data["lines_removed"] = removed
	res.Payload = fmt.Sprintf("Updated file: %s (%d bytes, +%d -%d lines)", rel, len(content), added, removed)
	return res, nil
}

func (fs *FileSystem) read(a readArgs) (Result, error) {
	abs, err := fs.paths.Validate(a.FilePath)
	if err != nil {
		return NewErrorResult(fmt.Sprintf("path validation failed: %s", err)), nil
	}

	info, err := os.Stat(abs)
	if err != nil {
		return NewErrorResult(fmt.Sprintf("cannot read %s: %s", a.FilePath, err)), nil
	}
	if info.IsDir() {
		return NewErrorResult(fmt.Sprintf("%s is a directory", a.FilePath)), nil
	}
	if info.Size() > int64(fs.maxReadBytes) {
		return NewErrorResult(fmt.Sprintf("%s is too large to read (%d bytes, limit %d)", a.FilePath, info.Size(), fs.maxReadBytes)), nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return NewErrorResult(fmt.Sprintf("cannot read %s: %s", a.FilePath, err)), nil
	}

	content := string(data)
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)
	if a.Offset > 0 || a.Limit > 0 {
		start := min(max(a.Offset, 0), total)
		end := total
		if a.Limit > 0 {
			end = min(start+a.Limit, total)
		}
		content = strings.Join(lines[start:end], "")
	}

	res := NewSuccessResult(content)
	res.Data = map[string]any{"path": fs.display(abs), "lines": total}
	return res, nil
}

func (fs *FileSystem) generate(ctx context.Context, a generateArgs) (Result, error) {
	if strings.TrimSpace(a.Instructions) == "" {
		return NewErrorResult("instructions must not be empty"), nil
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Write the complete contents of the file %s.\n", a.FilePath)
	if a.Language != "" {
		fmt.Fprintf(&prompt, "Language: %s\n", a.Language)
	}
	fmt.Fprintf(&prompt, "Requirements: %s\n", a.Instructions)
	prompt.WriteString("Respond with only the file contents, without explanations.")

	text, err := fs.completer.Complete(ctx, prompt.String())
	if err != nil {
		return Result{}, fmt.Errorf("generate %s: %w", a.FilePath, err)
	}
	content := stripFences(text)
	if strings.TrimSpace(content) == "" {
		return NewErrorResult("model returned no content"), nil
	}
	return fs.write(a.FilePath, content)
}

func (fs *FileSystem) display(abs string) string {
	if rel, err := filepath.Rel(fs.paths.WorkDir(), abs); err == nil {
		return filepath.ToSlash(rel)
	}
	return abs
}

// decodeArgs decodes model-supplied arguments into a typed struct. Numbers
// arrive as float64, so weak typing is enabled.
func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// lineChanges counts inserted and deleted lines between two texts.
func lineChanges(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if d.Text != "" && !strings.HasSuffix(d.Text, "\n") {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}

// stripFences returns the body of the first fenced code block, or text
// unchanged when there is none.
func stripFences(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return text
	}
	body = body[nl+1:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return body
}
