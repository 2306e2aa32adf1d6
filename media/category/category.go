// Package category holds the configured image categories and maps trigger
// paths such as "groupimages/originals/photo.jpg" onto them.
package category

import (
	"fmt"
	"strings"

	"github.com/leeforge/imageresize/config"
	apperrors "github.com/leeforge/imageresize/errors"
	"github.com/leeforge/imageresize/media/size"
)

// Category is one container of originals plus the variants derived from them.
type Category struct {
	Name            string
	OriginalsPrefix string
	Sizes           []size.Spec
}

// OriginalKey is the store key of an uploaded original.
func (c Category) OriginalKey(filename string) string {
	return c.OriginalsPrefix + filename
}

// VariantKey is the store key of the variant for tag.
func VariantKey(tag, filename string) string {
	return tag + "/" + filename
}

type Registry struct {
	ordered []Category
	byName  map[string]int
}

// NewRegistry resolves every configured size through policy. With a strict
// policy any unknown tag fails the whole registry.
func NewRegistry(cfgs []config.CategoryConfig, policy *size.Policy) (*Registry, error) {
	if err := policy.Validate(cfgs); err != nil {
		return nil, err
	}

	r := &Registry{byName: make(map[string]int, len(cfgs))}
	for _, cfg := range cfgs {
		if _, dup := r.byName[cfg.Name]; dup {
			return nil, apperrors.NewConfig(fmt.Sprintf("duplicate category %q", cfg.Name))
		}
		cat := Category{Name: cfg.Name, OriginalsPrefix: normalizePrefix(cfg.OriginalsPrefix)}
		for _, s := range cfg.Sizes {
			spec, err := policy.Spec(s.Tag, s.PreserveAspect)
			if err != nil {
				return nil, err
			}
			cat.Sizes = append(cat.Sizes, spec)
		}
		r.byName[cat.Name] = len(r.ordered)
		r.ordered = append(r.ordered, cat)
	}
	return r, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "originals"
	}
	return prefix + "/"
}

func (r *Registry) Get(name string) (Category, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Category{}, false
	}
	return r.ordered[i], true
}

// All returns the categories in configuration order.
func (r *Registry) All() []Category {
	return append([]Category(nil), r.ordered...)
}

// Resolve splits a trigger path into its category and original filename.
// Paths outside a category's originals prefix, and nested paths below it,
// are rejected.
func (r *Registry) Resolve(path string) (Category, string, error) {
	trimmed := strings.TrimPrefix(path, "/")
	name, rest, found := strings.Cut(trimmed, "/")
	if !found || name == "" {
		return Category{}, "", invalidPath(path, "missing category segment")
	}

	cat, ok := r.Get(name)
	if !ok {
		return Category{}, "", invalidPath(path, "unknown category").WithDetail("category", name)
	}

	filename, ok := strings.CutPrefix(rest, cat.OriginalsPrefix)
	if !ok {
		return Category{}, "", invalidPath(path, "not under "+cat.OriginalsPrefix)
	}
	if filename == "" || strings.Contains(filename, "/") || filename == "." || filename == ".." {
		return Category{}, "", invalidPath(path, "filename must be a single path segment")
	}
	return cat, filename, nil
}

func invalidPath(path, reason string) *apperrors.AppError {
	return apperrors.NewInvalid("trigger path", path, reason).WithCode(apperrors.CodeInvalidTrigger)
}
