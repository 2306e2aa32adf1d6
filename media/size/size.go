// Package size maps size tags such as "100x100" to the bounding dimension a
// variant is resized into.
package size

import (
	"fmt"
	"sort"
	"strings"

	"github.com/leeforge/imageresize/config"
	apperrors "github.com/leeforge/imageresize/errors"
	"github.com/leeforge/imageresize/logging"
	"go.uber.org/zap"
)

// Mode selects how the bounding dimension is applied to the source.
type Mode int

const (
	// Fit resizes to exactly min(srcW, dim) x min(srcH, dim); the result may
	// be distorted.
	Fit Mode = iota
	// PreserveAspectByWidth sets the width and derives the height from the
	// source aspect ratio, shrinking further when the height would exceed
	// its bound.
	PreserveAspectByWidth
)

func (m Mode) String() string {
	switch m {
	case Fit:
		return "fit"
	case PreserveAspectByWidth:
		return "preserve_aspect_by_width"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Spec is one resolved size entry of a category.
type Spec struct {
	Tag       string
	Dimension int
	Mode      Mode
}

func (s Spec) String() string {
	return fmt.Sprintf("%s(%d,%s)", s.Tag, s.Dimension, s.Mode)
}

var builtinTags = map[string]int{
	"100x100": 100,
	"480x360": 480,
}

// Policy resolves size tags. It is safe for concurrent use once built.
type Policy struct {
	tags     map[string]int
	strict   bool
	fallback int
	logger   logging.Logger
}

type Option func(*Policy)

// WithStrict controls unknown tag handling: strict policies return a config
// error, lenient ones fall back to the smallest known dimension.
func WithStrict(strict bool) Option {
	return func(p *Policy) { p.strict = strict }
}

// WithTags registers additional tags; they override built-ins of the same name.
func WithTags(tags map[string]int) Option {
	return func(p *Policy) {
		for tag, dim := range tags {
			p.tags[normalize(tag)] = dim
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(p *Policy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		tags:   make(map[string]int, len(builtinTags)),
		strict: true,
		logger: logging.NewNop(),
	}
	for tag, dim := range builtinTags {
		p.tags[tag] = dim
	}
	for _, opt := range opts {
		opt(p)
	}

	p.fallback = 0
	for _, dim := range p.tags {
		if dim > 0 && (p.fallback == 0 || dim < p.fallback) {
			p.fallback = dim
		}
	}
	p.logger = p.logger.Named("size")
	return p
}

// FromConfig builds the Policy described by the sizes section.
func FromConfig(cfg config.SizesConfig, logger logging.Logger) *Policy {
	return NewPolicy(WithStrict(cfg.IsStrict()), WithTags(cfg.Tags), WithLogger(logger))
}

// Resolve returns the bounding dimension for tag.
func (p *Policy) Resolve(tag string) (int, error) {
	if dim, ok := p.tags[normalize(tag)]; ok && dim > 0 {
		return dim, nil
	}
	if p.strict {
		return 0, unknownTag(tag)
	}
	p.logger.Warn("unknown size tag, using fallback dimension",
		zap.String("tag", tag), zap.Int("dimension", p.fallback))
	return p.fallback, nil
}

// Spec resolves tag into a full Spec.
func (p *Policy) Spec(tag string, preserveAspect bool) (Spec, error) {
	dim, err := p.Resolve(tag)
	if err != nil {
		return Spec{}, err
	}
	mode := Fit
	if preserveAspect {
		mode = PreserveAspectByWidth
	}
	return Spec{Tag: normalize(tag), Dimension: dim, Mode: mode}, nil
}

// Validate reports every unknown tag referenced by categories. Lenient
// policies accept everything.
func (p *Policy) Validate(categories []config.CategoryConfig) error {
	if !p.strict {
		return nil
	}
	chain := apperrors.NewErrorChain()
	for _, cat := range categories {
		for _, s := range cat.Sizes {
			if _, ok := p.tags[normalize(s.Tag)]; !ok {
				chain.Add(unknownTag(s.Tag).WithDetail("category", cat.Name))
			}
		}
	}
	return chain.ErrOrNil()
}

// Tags lists the known tags in sorted order.
func (p *Policy) Tags() []string {
	out := make([]string, 0, len(p.tags))
	for tag := range p.tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func (p *Policy) Strict() bool { return p.strict }

func unknownTag(tag string) *apperrors.AppError {
	return apperrors.NewConfig(fmt.Sprintf("unknown size tag %q", tag)).
		WithCode(apperrors.CodeUnknownSizeTag).
		WithDetail("tag", tag)
}

func normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
