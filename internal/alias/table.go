// =============================================================================
// Blood Test Parser - Alias Table
// =============================================================================
//
// The alias table maps raw test-name variants to canonical identifiers. It is
// static reference data: loaded once per run, immutable afterwards, and safe
// to share between documents processed concurrently.
//
// FILE FORMAT (YAML or JSON):
//
//   aliases:
//     Sodium: [sodium, na]
//     Calcium: [corrected calcium, corr calcium]
//     Bili.Total: [bilirubin total, bili total]
//
// Every canonical identifier is implicitly an alias of itself.
//
// =============================================================================

package alias

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/blood-test-parser/internal/config"
)

// fileSchema constrains the alias file structure.
const fileSchema = `{
  "type": "object",
  "required": ["aliases"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "aliases": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "array",
        "items": {"type": "string", "minLength": 1}
      }
    }
  }
}`

// AliasEntry maps one raw variant to a canonical identifier.
type AliasEntry struct {
	Variant   string
	Canonical string
}

// FoldCollision is a folded key claimed by more than one canonical id.
// Such keys are excluded from folded matching.
type FoldCollision struct {
	Key        string
	Canonicals []string
}

// Table is an immutable alias table.
type Table struct {
	exact      map[string]string
	folded     map[string]string
	entries    []AliasEntry
	canonicals []string
	collisions []FoldCollision
	folder     *Folder
}

// aliasFile is the on-disk layout.
type aliasFile struct {
	Version int                 `yaml:"version" json:"version"`
	Aliases map[string][]string `yaml:"aliases" json:"aliases"`
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

// NewTable builds a table from canonical -> variants.
//
// RETURNS:
//   - An error when one variant maps to two different canonical ids.
func NewTable(aliases map[string][]string, rules []config.NameRule) (*Table, error) {
	folder, err := NewFolder(rules)
	if err != nil {
		return nil, err
	}

	t := &Table{
		exact:  make(map[string]string),
		folded: make(map[string]string),
		folder: folder,
	}

	canonicals := make([]string, 0, len(aliases))
	for canonical := range aliases {
		canonical = strings.TrimSpace(canonical)
		if canonical == "" {
			return nil, fmt.Errorf("alias table has an empty canonical name")
		}
		canonicals = append(canonicals, canonical)
	}
	sort.Strings(canonicals)
	t.canonicals = canonicals

	for _, canonical := range canonicals {
		variants := append([]string{canonical}, aliases[canonical]...)
		for _, v := range variants {
			if err := t.add(v, canonical); err != nil {
				return nil, err
			}
		}
	}

	t.buildFolded()
	return t, nil
}

func (t *Table) add(variant, canonical string) error {
	key := exactKey(variant)
	if key == "" {
		return nil
	}
	if prev, ok := t.exact[key]; ok {
		if prev != canonical {
			return fmt.Errorf("alias %q maps to both %q and %q", variant, prev, canonical)
		}
		return nil
	}
	t.exact[key] = canonical
	t.entries = append(t.entries, AliasEntry{Variant: variant, Canonical: canonical})
	return nil
}

func (t *Table) buildFolded() {
	claims := make(map[string]map[string]bool)
	for key, canonical := range t.exact {
		fk := t.folder.Fold(key)
		if fk == "" {
			continue
		}
		if claims[fk] == nil {
			claims[fk] = make(map[string]bool)
		}
		claims[fk][canonical] = true
	}

	for fk, owners := range claims {
		if len(owners) == 1 {
			for canonical := range owners {
				t.folded[fk] = canonical
			}
			continue
		}
		c := FoldCollision{Key: fk}
		for canonical := range owners {
			c.Canonicals = append(c.Canonicals, canonical)
		}
		sort.Strings(c.Canonicals)
		t.collisions = append(t.collisions, c)
	}
	sort.Slice(t.collisions, func(i, j int) bool { return t.collisions[i].Key < t.collisions[j].Key })
}

// =============================================================================
// LOADING
// =============================================================================

// LoadFile reads an alias file (.yaml, .yml or .json) and builds a table.
// The decoded document is validated against the alias file schema first.
func LoadFile(path string, rules []config.NameRule) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alias file: %w", err)
	}

	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &doc)
	default:
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse alias file: %w", err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, fmt.Errorf("invalid alias file %s: %w", path, err)
	}

	var file aliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode alias file: %w", err)
	}
	return NewTable(file.Aliases, rules)
}

// Load returns the table at path, or the built-in table when path is empty.
func Load(path string, rules []config.NameRule) (*Table, error) {
	if path == "" {
		return Default(rules)
	}
	return LoadFile(path, rules)
}

// validateDocument checks a decoded document against fileSchema.
// YAML values are round-tripped through JSON so the validator sees JSON types.
func validateDocument(doc any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("aliases.json", strings.NewReader(fileSchema)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("aliases.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("alias document is not JSON compatible: %w", err)
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	return schema.Validate(v)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Canonicals returns the canonical identifiers, sorted.
func (t *Table) Canonicals() []string {
	return append([]string(nil), t.canonicals...)
}

// Entries returns every variant -> canonical entry.
func (t *Table) Entries() []AliasEntry {
	return append([]AliasEntry(nil), t.entries...)
}

// Collisions returns folded keys dropped because they were ambiguous.
func (t *Table) Collisions() []FoldCollision {
	return append([]FoldCollision(nil), t.collisions...)
}

// Len is the number of exact entries.
func (t *Table) Len() int {
	return len(t.exact)
}

// lookupExact is step 1 of resolution.
func (t *Table) lookupExact(raw string) (string, bool) {
	c, ok := t.exact[exactKey(raw)]
	return c, ok
}

// lookupFolded is step 2 of resolution.
func (t *Table) lookupFolded(raw string) (string, bool) {
	fk := t.folder.Fold(exactKey(raw))
	if fk == "" {
		return "", false
	}
	c, ok := t.folded[fk]
	return c, ok
}
