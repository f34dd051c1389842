package variant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"
)

const fileExtension = ".yml"

var documentSeparator = regexp.MustCompile(`(?m)^---[ \t]*$`)

var configSchema = jsonschema.Schema{
	Type:     "object",
	Required: []string{"name"},
	Properties: map[string]*jsonschema.Schema{
		"name":                          {Type: "string", MinLength: ptr.To(1)},
		"default_c2_protocol":           {Type: "string"},
		"default_group":                 {Type: "string"},
		"activate_proxy_peer_listeners": {Type: "boolean"},
		"include_proxy_peer_protocol":   {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		"gocat_extensions":              {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
	},
}

var (
	resolveOnce    sync.Once
	resolvedSchema *jsonschema.Resolved
	resolveErr     error
)

func schema() (*jsonschema.Resolved, error) {
	resolveOnce.Do(func() {
		resolvedSchema, resolveErr = configSchema.Resolve(nil)
	})
	return resolvedSchema, resolveErr
}

// FileSource reads variants from <Dir>/<name>.yml. Only the first YAML
// document of a file is used.
type FileSource struct {
	Dir string
}

var _ Source = &FileSource{}

func (s *FileSource) Load(ctx context.Context, name string) (*VariantConfig, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid variant name %q: %w", name, ErrNotFound)
	}

	path := filepath.Join(s.Dir, name+fileExtension)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("variant '%s': %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read variant file '%s': %w", path, err)
	}

	cfg, err := Read(data)
	if err != nil {
		return nil, fmt.Errorf("invalid variant file '%s': %w", path, err)
	}

	return cfg, nil
}

// Read parses and validates the first YAML document in data.
func Read(data []byte) (*VariantConfig, error) {
	doc := firstDocument(data)

	jsonData, err := yaml.YAMLToJSON(doc)
	if err != nil {
		return nil, err
	}

	var instance map[string]any
	if err := json.Unmarshal(jsonData, &instance); err != nil {
		return nil, fmt.Errorf("variant document must be a mapping: %w", err)
	}
	if instance == nil {
		return nil, fmt.Errorf("variant document is empty")
	}

	resolved, err := schema()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve variant schema: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return nil, err
	}

	cfg := &VariantConfig{}
	if err := json.Unmarshal(jsonData, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// List returns the names of the variant files in the directory.
func (s *FileSource) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExtension {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExtension))
	}

	return names, nil
}

func firstDocument(data []byte) []byte {
	for _, doc := range documentSeparator.Split(string(data), -1) {
		if strings.TrimSpace(doc) != "" {
			return []byte(doc)
		}
	}
	return nil
}
