package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/moby/sys/atomicwriter"
	"gopkg.in/yaml.v3"
)

const (
	// CatalogFileName is the document listing enabled models.
	CatalogFileName = "models.yaml"
	// ModelConfigDir holds one <model_id>.yaml document per model.
	ModelConfigDir = "auto_labeling"
)

// Catalog reads the enabled-model list and per-model documents from a
// configuration root. It only parses; semantic checks live in Validate.
type Catalog struct {
	root string
}

// NewCatalog creates a catalog rooted at the given directory.
func NewCatalog(root string) *Catalog {
	return &Catalog{root: root}
}

// Root returns the configuration root.
func (c *Catalog) Root() string {
	return c.root
}

// CatalogPath returns the path of the enabled-model list.
func (c *Catalog) CatalogPath() string {
	return filepath.Join(c.root, CatalogFileName)
}

// ModelConfigPath returns the document path for a model id.
func (c *Catalog) ModelConfigPath(modelID string) string {
	return filepath.Join(c.root, ModelConfigDir, modelID+".yaml")
}

type catalogDocument struct {
	EnabledModels []string       `yaml:"enabled_models"`
	Extra         map[string]any `yaml:",inline"`
}

func (c *Catalog) readCatalog() (*catalogDocument, error) {
	path := c.CatalogPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoCatalog, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfigInvalid, path, err)
	}
	return &doc, nil
}

// ListEnabled returns the enabled model ids in catalog order. A missing
// catalog yields an empty list together with ErrNoCatalog.
func (c *Catalog) ListEnabled() ([]string, error) {
	doc, err := c.readCatalog()
	if err != nil {
		return []string{}, err
	}
	if doc.EnabledModels == nil {
		return []string{}, nil
	}
	return doc.EnabledModels, nil
}

// ReadModelConfig reads and parses auto_labeling/<modelID>.yaml.
func (c *Catalog) ReadModelConfig(modelID string) (*ModelConfig, error) {
	if err := checkModelID(modelID); err != nil {
		return nil, err
	}

	path := c.ModelConfigPath(modelID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg, err := parseModelConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Key = modelID
	cfg.Path = path
	return cfg, nil
}

// ParseModelConfig parses a single model document.
func ParseModelConfig(data []byte) (*ModelConfig, error) {
	return parseModelConfig(data)
}

func parseModelConfig(data []byte) (*ModelConfig, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, ErrConfigEmpty
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.Tag == "!!null" {
		return nil, ErrConfigEmpty
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: document must be a mapping", ErrConfigInvalid)
	}
	if len(root.Content) == 0 {
		return nil, ErrConfigEmpty
	}

	var raw map[string]any
	if err := root.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	var cfg ModelConfig
	if err := root.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	cfg.raw = raw
	cfg.Params = jsonMap(cfg.Params)
	for i := range cfg.Widgets {
		cfg.Widgets[i].Value = jsonValue(cfg.Widgets[i].Value)
		cfg.Widgets[i].Extra = jsonMap(cfg.Widgets[i].Extra)
	}
	return &cfg, nil
}

// SetEnabled adds or removes a model id from the enabled list and rewrites
// the catalog atomically. Keys other than enabled_models are preserved;
// comments are not.
func (c *Catalog) SetEnabled(modelID string, enabled bool) error {
	if err := checkModelID(modelID); err != nil {
		return err
	}

	doc, err := c.readCatalog()
	if err != nil {
		if !errors.Is(err, ErrNoCatalog) {
			return err
		}
		doc = &catalogDocument{}
	}

	present := slices.Contains(doc.EnabledModels, modelID)
	switch {
	case enabled && present, !enabled && !present:
		return nil
	case enabled:
		doc.EnabledModels = append(doc.EnabledModels, modelID)
	default:
		doc.EnabledModels = slices.DeleteFunc(doc.EnabledModels, func(id string) bool {
			return id == modelID
		})
	}
	if doc.EnabledModels == nil {
		doc.EnabledModels = []string{}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("creating config root: %w", err)
	}
	if err := atomicwriter.WriteFile(c.CatalogPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	return nil
}

// checkModelID rejects ids that would escape the per-model directory.
func checkModelID(modelID string) error {
	switch {
	case modelID == "", modelID == ".", modelID == "..":
		return fmt.Errorf("%w: invalid model id %q", ErrConfigInvalid, modelID)
	case strings.ContainsAny(modelID, `/\`+"\x00"):
		return fmt.Errorf("%w: model id %q must be a plain name", ErrConfigInvalid, modelID)
	}
	return nil
}
