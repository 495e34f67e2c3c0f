package notify

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Template file names of the default set.
const (
	TemplateConfirmEmail     = "confirm-email.html"
	TemplateResetPassword    = "reset-password.html"
	TemplateSecondFactorCode = "second-factor-code.html"
)

var (
	// ErrInvalidTemplateName is returned for names that escape the template
	// root or use an extension outside the allowlist.
	ErrInvalidTemplateName = errors.New("notify: invalid template name")
	// ErrTemplateNotFound is returned when the name is valid but absent.
	ErrTemplateNotFound = errors.New("notify: template not found")
)

var allowedExtensions = map[string]bool{".html": true, ".txt": true, ".template": true}

//go:embed templates/*.html
var embedded embed.FS

// DefaultTemplates returns the embedded template set.
func DefaultTemplates() fs.FS {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// TemplateCache parses templates from a file system on first use and keeps
// up to size of them. It is safe for concurrent use.
type TemplateCache struct {
	fsys  fs.FS
	cache *lru.Cache[string, *template.Template]
}

// NewTemplateCache returns a cache over fsys. A nil fsys uses
// DefaultTemplates.
func NewTemplateCache(fsys fs.FS, size int) (*TemplateCache, error) {
	if fsys == nil {
		fsys = DefaultTemplates()
	}
	if size <= 0 {
		size = 16
	}
	cache, err := lru.New[string, *template.Template](size)
	if err != nil {
		return nil, err
	}
	return &TemplateCache{fsys: fsys, cache: cache}, nil
}

// Get returns the parsed template called name.
func (c *TemplateCache) Get(name string) (*template.Template, error) {
	if err := ValidateTemplateName(name); err != nil {
		return nil, err
	}
	if tmpl, ok := c.cache.Get(name); ok {
		return tmpl, nil
	}

	raw, err := fs.ReadFile(c.fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("notify: read %s: %w", name, err)
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("notify: parse %s: %w", name, err)
	}
	c.cache.Add(name, tmpl)
	return tmpl, nil
}

// Render executes the template called name with data.
func (c *TemplateCache) Render(name string, data any) (string, error) {
	tmpl, err := c.Get(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Len reports how many templates are cached.
func (c *TemplateCache) Len() int {
	return c.cache.Len()
}

// ValidateTemplateName rejects absolute paths, parent references,
// backslashes and extensions other than .html, .txt and .template.
func ValidateTemplateName(name string) error {
	if name == "" || strings.Contains(name, `\`) || strings.Contains(name, "..") || path.IsAbs(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTemplateName, name)
	}
	if !fs.ValidPath(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTemplateName, name)
	}
	if !allowedExtensions[path.Ext(name)] {
		return fmt.Errorf("%w: extension of %q", ErrInvalidTemplateName, name)
	}
	return nil
}
