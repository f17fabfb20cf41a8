package tools

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxReadBytes = 1 << 20 // 1 MiB per read_file call

// LocalProvider serves a small set of in-process capabilities scoped to a
// workspace directory. It doubles as the reference Provider implementation.
type LocalProvider struct {
	workspace string
	logger    zerolog.Logger
}

// NewLocalProvider creates a provider rooted at the given workspace path.
func NewLocalProvider(workspace string, logger zerolog.Logger) *LocalProvider {
	return &LocalProvider{
		workspace: workspace,
		logger:    logger.With().Str("component", "local_tools").Logger(),
	}
}

// ProviderName implements Provider.
func (p *LocalProvider) ProviderName() string { return "local" }

// Initialize implements Provider. The workspace must exist.
func (p *LocalProvider) Initialize(context.Context) error {
	info, err := os.Stat(p.workspace)
	if err != nil {
		return fmt.Errorf("workspace %s: %w", p.workspace, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace %s is not a directory", p.workspace)
	}
	return nil
}

// ListCapabilities implements Provider.
func (p *LocalProvider) ListCapabilities() []Descriptor {
	return []Descriptor{
		{
			Name:        "current_time",
			Description: "Returns the current time in RFC 3339 format, optionally in a named timezone.",
			Parameters: []Parameter{
				{Name: "timezone", Type: "string", Description: "IANA timezone name, e.g. America/New_York. Defaults to UTC."},
			},
			Returns: "object with time and timezone fields",
		},
		{
			Name:        "read_file",
			Description: "Reads a UTF-8 text file from the workspace. Paths outside the workspace are rejected.",
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "File path relative to the workspace root.", Required: true},
				{Name: "max_bytes", Type: "integer", Description: "Maximum bytes to read.", Default: maxReadBytes},
			},
			Returns: "object with path, content and truncated fields",
		},
		{
			Name:        "list_directory",
			Description: "Lists the entries of a workspace directory.",
			Parameters: []Parameter{
				{Name: "path", Type: "string", Description: "Directory path relative to the workspace root.", Default: "."},
			},
			Returns: "array of entry objects with name, size and dir fields",
		},
	}
}

// Execute implements Provider.
func (p *LocalProvider) Execute(ctx context.Context, name string, args map[string]interface{}) Result {
	switch name {
	case "current_time":
		return p.currentTime(args)
	case "read_file":
		return p.readFile(args)
	case "list_directory":
		return p.listDirectory(args)
	default:
		return Fail(fmt.Sprintf("unknown capability: %s", name))
	}
}

func (p *LocalProvider) currentTime(args map[string]interface{}) Result {
	loc := time.UTC
	if tz, _ := args["timezone"].(string); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return Fail(fmt.Sprintf("unknown timezone: %s", tz))
		}
		loc = parsed
	}
	now := time.Now().In(loc)
	return OK(map[string]interface{}{
		"time":     now.Format(time.RFC3339),
		"timezone": loc.String(),
	})
}

func (p *LocalProvider) readFile(args map[string]interface{}) Result {
	path, _ := args["path"].(string)
	if path == "" {
		return Fail("path is required")
	}

	target, err := p.resolvePath(path)
	if err != nil {
		return Fail(err.Error())
	}

	limit := int64(maxReadBytes)
	if raw, ok := args["max_bytes"].(float64); ok && raw > 0 && int64(raw) < limit {
		limit = int64(raw)
	}

	f, err := os.Open(target) //#nosec G304 -- path validated against workspace root
	if err != nil {
		return Fail(fmt.Sprintf("failed to open %s: %v", path, err))
	}
	defer f.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return Fail(fmt.Sprintf("failed to read %s: %v", path, err))
	}

	truncated := int64(len(data)) > limit
	if truncated {
		data = data[:limit]
	}

	return OK(map[string]interface{}{
		"path":      path,
		"content":   string(data),
		"truncated": truncated,
	})
}

func (p *LocalProvider) listDirectory(args map[string]interface{}) Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}

	target, err := p.resolvePath(path)
	if err != nil {
		return Fail(err.Error())
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return Fail(fmt.Sprintf("failed to list %s: %v", path, err))
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		item := map[string]interface{}{
			"name": entry.Name(),
			"dir":  entry.IsDir(),
		}
		if info, err := entry.Info(); err == nil {
			item["size"] = info.Size()
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["name"].(string) < out[j]["name"].(string)
	})
	return OK(out)
}

// resolvePath joins a caller-supplied path with the workspace root and
// rejects anything that escapes it.
func (p *LocalProvider) resolvePath(target string) (string, error) {
	absWorkspace, err := filepath.Abs(filepath.Clean(p.workspace))
	if err != nil {
		return "", fmt.Errorf("invalid workspace path: %w", err)
	}

	joined := target
	if !filepath.IsAbs(target) {
		joined = filepath.Join(absWorkspace, target)
	}
	absTarget, err := filepath.Abs(filepath.Clean(joined))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	if absTarget != absWorkspace && !strings.HasPrefix(absTarget+string(filepath.Separator), absWorkspace+string(filepath.Separator)) {
		return "", fmt.Errorf("path outside workspace: %s", target)
	}
	return absTarget, nil
}
