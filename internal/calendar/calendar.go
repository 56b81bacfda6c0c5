// Package calendar loads the school term calendar and turns it into the
// session/term lookup the attendance period resolver reads.
package calendar

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/in-nis/school-portal/internal/models"
	"github.com/in-nis/school-portal/internal/period"
)

type Repository interface {
	ListTerms(ctx context.Context) ([]models.Term, error)
	ReplaceTerms(ctx context.Context, terms []models.Term) error
}

// MemoryRepository keeps the calendar in process, for runs without a database.
type MemoryRepository struct {
	mu    sync.RWMutex
	terms []models.Term
}

func NewMemoryRepository(terms ...models.Term) *MemoryRepository {
	return &MemoryRepository{terms: append([]models.Term(nil), terms...)}
}

func (m *MemoryRepository) ListTerms(context.Context) ([]models.Term, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]models.Term(nil), m.terms...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Session != out[j].Session {
			return out[i].Session < out[j].Session
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out, nil
}

func (m *MemoryRepository) ReplaceTerms(_ context.Context, terms []models.Term) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terms = append([]models.Term(nil), terms...)
	return nil
}

// Reload parses the workbook at source (a path or an http(s) URL) and replaces
// the stored calendar with it.
func Reload(ctx context.Context, repo Repository, source string, loc *time.Location) (int, error) {
	path := source
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		downloaded, err := Fetch(ctx, source)
		if err != nil {
			return 0, err
		}
		path = downloaded
		defer os.Remove(downloaded)
	}

	terms, err := Parse(path, loc)
	if err != nil {
		return 0, fmt.Errorf("parse calendar: %w", err)
	}
	if err := repo.ReplaceTerms(ctx, terms); err != nil {
		return 0, fmt.Errorf("save calendar: %w", err)
	}

	log.Printf("✅ Saved %d terms\n", len(terms))
	return len(terms), nil
}

// Build indexes terms by session and term name. Dates are pinned to midnight
// in loc so they compare cleanly with "today".
func Build(terms []models.Term, loc *time.Location) period.TermDateRange {
	out := period.TermDateRange{}
	for _, t := range terms {
		if out[t.Session] == nil {
			out[t.Session] = map[string]period.DateRange{}
		}
		out[t.Session][t.Name] = period.DateRange{
			Start: inLocation(t.StartDate, loc),
			End:   inLocation(t.EndDate, loc),
		}
	}
	return out
}

func inLocation(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
