package environments

import (
	"context"
	"fmt"
	"net/http"

	"github.com/animus-labs/wsctl/internal/domain"
	"github.com/animus-labs/wsctl/internal/workspace"
)

type summaryResource struct {
	Name             string            `json:"name"`
	LatestVersion    string            `json:"latest_version"`
	Description      string            `json:"description"`
	Tags             map[string]string `json:"tags"`
	LastModifiedTime string            `json:"last_modified_time"`
}

type page struct {
	Value    []summaryResource `json:"value"`
	NextLink string            `json:"next_link"`
}

// Iterator walks the environment listing one page at a time. It is single
// use: once exhausted, or after an error, Next keeps returning false.
//
//	it := mgr.List(ctx)
//	for it.Next() {
//		fmt.Println(it.Value().Name)
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	ctx    context.Context
	client *workspace.Client
	next   string

	buf   []summaryResource
	cur   domain.EnvironmentSummary
	pages int
	err   error
	done  bool
}

func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	for len(it.buf) == 0 {
		if it.next == "" {
			it.done = true
			return false
		}
		if err := it.fetch(); err != nil {
			it.err = err
			it.done = true
			return false
		}
	}
	r := it.buf[0]
	it.buf = it.buf[1:]
	it.cur = domain.EnvironmentSummary{
		Name:          r.Name,
		LatestVersion: r.LatestVersion,
		Description:   r.Description,
		Tags:          domain.Tags(r.Tags),
		UpdatedAt:     parseTime(r.LastModifiedTime),
	}
	return true
}

func (it *Iterator) fetch() error {
	var p page
	if err := it.client.Do(it.ctx, http.MethodGet, it.next, nil, &p); err != nil {
		return fmt.Errorf("list environments (page %d): %w", it.pages+1, err)
	}
	it.pages++
	it.buf = p.Value
	it.next = p.NextLink
	return nil
}

// Value is the summary produced by the last successful Next.
func (it *Iterator) Value() domain.EnvironmentSummary {
	return it.cur
}

func (it *Iterator) Err() error {
	return it.err
}

// Pages reports how many pages have been fetched so far.
func (it *Iterator) Pages() int {
	return it.pages
}

// Collect drains it.
func Collect(it *Iterator) ([]domain.EnvironmentSummary, error) {
	var out []domain.EnvironmentSummary
	for it.Next() {
		out = append(out, it.Value())
	}
	return out, it.Err()
}
