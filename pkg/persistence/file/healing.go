package file

import (
	"context"
	"fmt"
	"slices"

	"github.com/dukex/flowmedic/pkg/models"
	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/google/uuid"
)

// HealingRepository keeps the append-only healing history.
type HealingRepository struct {
	docs *collection[models.HealingEntry]
}

func (r *HealingRepository) Append(_ context.Context, entry *models.HealingEntry) error {
	r.docs.mu.Lock()
	defer r.docs.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if r.docs.exists(entry.ID) {
		return fmt.Errorf("healing entry %s already recorded", entry.ID)
	}

	return r.docs.write(entry.ID, entry)
}

func (r *HealingRepository) Find(_ context.Context, filter persistence.HealingFilter, limit int) ([]*models.HealingEntry, error) {
	matched, err := r.match(filter)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(matched, func(a, b *models.HealingEntry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, nil
}

func (r *HealingRepository) Count(_ context.Context, filter persistence.HealingFilter) (int, error) {
	matched, err := r.match(filter)
	if err != nil {
		return 0, err
	}

	return len(matched), nil
}

func (r *HealingRepository) match(filter persistence.HealingFilter) ([]*models.HealingEntry, error) {
	r.docs.mu.Lock()
	all, err := r.docs.all()
	r.docs.mu.Unlock()

	if err != nil {
		return nil, err
	}

	matched := make([]*models.HealingEntry, 0, len(all))

	for _, entry := range all {
		if filter.Match(entry) {
			matched = append(matched, entry)
		}
	}

	return matched, nil
}
