package classifier

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

type compiledPattern struct {
	models.ErrorPattern

	matcher *regexp.Regexp
}

// Catalog is the immutable pattern and strategy table the classifier and fixer read from.
type Catalog struct {
	patterns   []compiledPattern
	strategies []models.FixStrategy
	byID       map[string]int
}

// catalogFile is the on-disk shape of a catalog file, YAML or JSON.
type catalogFile struct {
	Patterns   []models.ErrorPattern `yaml:"patterns"`
	Strategies []models.FixStrategy  `yaml:"strategies"`
}

// NewCatalog validates and compiles the given patterns and strategies.
func NewCatalog(patterns []models.ErrorPattern, strategies []models.FixStrategy) (*Catalog, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	catalog := &Catalog{
		patterns:   make([]compiledPattern, 0, len(patterns)),
		strategies: make([]models.FixStrategy, 0, len(strategies)),
		byID:       make(map[string]int, len(strategies)),
	}

	for _, strategy := range strategies {
		err := validate.Struct(strategy)
		if err != nil {
			return nil, fmt.Errorf("%w: strategy %q: %w", ErrInvalidCatalog, strategy.ID, err)
		}

		if !strategy.ErrorType.Valid() {
			return nil, fmt.Errorf("%w: strategy %q: unknown error type %q", ErrInvalidCatalog, strategy.ID, strategy.ErrorType)
		}

		if _, exists := catalog.byID[strategy.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate strategy %q", ErrInvalidCatalog, strategy.ID)
		}

		steps := slices.Clone(strategy.Steps)
		slices.SortStableFunc(steps, func(a, b models.FixStep) int { return a.Order - b.Order })
		strategy.Steps = steps

		catalog.byID[strategy.ID] = len(catalog.strategies)
		catalog.strategies = append(catalog.strategies, strategy)
	}

	seen := make(map[string]bool, len(patterns))

	for _, pattern := range patterns {
		err := validate.Struct(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %w", ErrInvalidCatalog, pattern.ID, err)
		}

		if !pattern.ErrorType.Valid() {
			return nil, fmt.Errorf("%w: pattern %q: unknown error type %q", ErrInvalidCatalog, pattern.ID, pattern.ErrorType)
		}

		if seen[pattern.ID] {
			return nil, fmt.Errorf("%w: duplicate pattern %q", ErrInvalidCatalog, pattern.ID)
		}

		seen[pattern.ID] = true

		if pattern.FixStrategyID != "" {
			if _, ok := catalog.byID[pattern.FixStrategyID]; !ok {
				return nil, fmt.Errorf("%w: pattern %q: %w %q", ErrInvalidCatalog, pattern.ID, ErrUnknownStrategy, pattern.FixStrategyID)
			}
		}

		matcher, err := regexp.Compile(pattern.Signature)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %w", ErrInvalidCatalog, pattern.ID, err)
		}

		catalog.patterns = append(catalog.patterns, compiledPattern{ErrorPattern: pattern, matcher: matcher})
	}

	return catalog, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog(defaultPatterns(), defaultStrategies())
	if err != nil {
		panic(err)
	}

	return catalog
}

// LoadCatalog reads a YAML or JSON catalog file and merges it over the built-in
// catalog. Entries whose ID matches a built-in one replace it; others are appended.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	return ParseCatalog(data)
}

// ParseCatalog validates raw YAML or JSON against the catalog schema and merges it over the built-in catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var document any

	err := yaml.Unmarshal(data, &document)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	err = validateSchema(document)
	if err != nil {
		return nil, err
	}

	var file catalogFile

	err = yaml.Unmarshal(data, &file)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	patterns := merge(defaultPatterns(), file.Patterns, func(p models.ErrorPattern) string { return p.ID })
	strategies := merge(defaultStrategies(), file.Strategies, func(s models.FixStrategy) string { return s.ID })

	return NewCatalog(patterns, strategies)
}

func validateSchema(document any) error {
	if document == nil {
		return fmt.Errorf("%w: empty document", ErrInvalidCatalog)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(catalogSchema), gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidCatalog, strings.Join(problems, "; "))
	}

	return nil
}

func merge[T any](base, overrides []T, id func(T) string) []T {
	merged := slices.Clone(base)

	for _, override := range overrides {
		index := slices.IndexFunc(merged, func(existing T) bool { return id(existing) == id(override) })
		if index >= 0 {
			merged[index] = override

			continue
		}

		merged = append(merged, override)
	}

	return merged
}

// Patterns returns the catalog patterns in match order.
func (c *Catalog) Patterns() []models.ErrorPattern {
	patterns := make([]models.ErrorPattern, len(c.patterns))
	for i, p := range c.patterns {
		patterns[i] = p.ErrorPattern
	}

	return patterns
}

func (c *Catalog) Strategies() []models.FixStrategy {
	return slices.Clone(c.strategies)
}

func (c *Catalog) Strategy(id string) (models.FixStrategy, bool) {
	index, ok := c.byID[id]
	if !ok {
		return models.FixStrategy{}, false
	}

	return c.strategies[index], true
}

// StrategyFor picks the strategy for a classification: the primary pattern's
// strategy when it names one, otherwise the first strategy declared for the error type.
func (c *Catalog) StrategyFor(classification *models.Classification) (models.FixStrategy, error) {
	for _, id := range classification.SuggestedFixes {
		if strategy, ok := c.Strategy(id); ok {
			return strategy, nil
		}
	}

	for _, strategy := range c.strategies {
		if strategy.ErrorType == classification.ErrorType {
			return strategy, nil
		}
	}

	return models.FixStrategy{}, fmt.Errorf("%w for error type %s", ErrUnknownStrategy, classification.ErrorType)
}

// IsInvalidCatalog reports whether err came from catalog validation.
func IsInvalidCatalog(err error) bool {
	return errors.Is(err, ErrInvalidCatalog)
}
