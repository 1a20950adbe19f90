package mdp

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/example/mdprep/pipeline/domain"
)

const defaultCacheSize = 32

// Request describes one rendered parameter file.
type Request struct {
	// Template is the path of the template to fill.
	Template string

	// Output is where the rendered file is written.
	Output string

	// Values fill ${NAME} placeholders.
	Values map[string]string

	// Overrides replace or append parameters after substitution.
	Overrides map[string]string
}

type parsedTemplate struct {
	expr         hclsyntax.Expression
	placeholders []string
	modTime      time.Time
	size         int64
}

// Renderer fills parameter templates. Parsed templates are cached and
// reparsed when the file on disk changes.
type Renderer struct {
	cache *lru.Cache[string, *parsedTemplate]
}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer {
	cache, err := lru.New[string, *parsedTemplate](defaultCacheSize)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &Renderer{cache: cache}
}

// Render writes exactly one file at req.Output. The template is never
// modified. Rendering the same request twice produces identical bytes.
func (r *Renderer) Render(req Request) error {
	content, err := r.RenderBytes(req)
	if err != nil {
		return err
	}
	return writeFileAtomic(req.Output, content)
}

// RenderBytes returns the rendered content without writing it.
func (r *Renderer) RenderBytes(req Request) ([]byte, error) {
	tmpl, err := r.load(req.Template)
	if err != nil {
		return nil, err
	}

	var missing []string
	vars := make(map[string]cty.Value, len(tmpl.placeholders))
	for _, name := range tmpl.placeholders {
		v, ok := req.Values[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		vars[name] = cty.StringVal(v)
	}
	if len(missing) > 0 {
		return nil, &domain.TemplateError{Template: req.Template, Missing: missing}
	}

	val, diags := tmpl.expr.Value(&hcl.EvalContext{Variables: vars})
	if diags.HasErrors() {
		return nil, &domain.TemplateError{Template: req.Template, Err: diags}
	}
	if val.IsNull() || !val.IsKnown() || !val.Type().Equals(cty.String) {
		return nil, &domain.TemplateError{
			Template: req.Template,
			Err:      fmt.Errorf("template evaluated to %s, not text", val.Type().FriendlyName()),
		}
	}

	file := Parse([]byte(val.AsString()))
	keys := make([]string, 0, len(req.Overrides))
	for k := range req.Overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		file.Set(k, req.Overrides[k])
	}
	return file.Bytes(), nil
}

// Placeholders returns the sorted placeholder names a template uses.
func (r *Renderer) Placeholders(path string) ([]string, error) {
	tmpl, err := r.load(path)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), tmpl.placeholders...), nil
}

func (r *Renderer) load(path string) (*parsedTemplate, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &domain.TemplateError{Template: path, Err: errors.New("template does not exist")}
		}
		return nil, &domain.TemplateError{Template: path, Err: err}
	}
	if info.IsDir() {
		return nil, &domain.TemplateError{Template: path, Err: errors.New("template is a directory")}
	}

	if cached, ok := r.cache.Get(path); ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached, nil
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.TemplateError{Template: path, Err: err}
	}
	expr, diags := hclsyntax.ParseTemplate(src, path, hcl.Pos{Line: 1, Column: 1, Byte: 0})
	if diags.HasErrors() {
		return nil, &domain.TemplateError{Template: path, Err: diags}
	}

	seen := make(map[string]struct{})
	var names []string
	for _, traversal := range expr.Variables() {
		name := traversal.RootName()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)

	tmpl := &parsedTemplate{
		expr:         expr,
		placeholders: names,
		modTime:      info.ModTime(),
		size:         info.Size(),
	}
	r.cache.Add(path, tmpl)
	return tmpl, nil
}

// writeFileAtomic writes through a temp file and renames it into place.
func writeFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
