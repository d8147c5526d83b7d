package admin

import (
	"net/http"
	"net/url"
	"strconv"
)

// Page is the paging state of a table.
type Page struct {
	Number int
	Size   int
	Total  int // -1 when the query does not count rows
	Count  int // rows on this page
	Sizes  []int
	query  url.Values
}

// maxPageNumber keeps Offset well inside int range for any page size.
const maxPageNumber = 100000

func (h *Handler) page(r *http.Request, sizes []int) Page {
	size := queryInt(r, "size", h.pagination.DefaultPageSize)
	if size < 1 || size > h.pagination.MaxPageSize {
		size = h.pagination.DefaultPageSize
	}
	number := min(max(queryInt(r, "page", 1), 1), maxPageNumber)
	return Page{Number: number, Size: size, Total: -1, Sizes: sizes, query: r.URL.Query()}
}

func (p Page) Offset() int { return (p.Number - 1) * p.Size }

func (p Page) HasPrev() bool { return p.Number > 1 }

// HasNext uses the total when known, otherwise a full page means there may
// be more.
func (p Page) HasNext() bool {
	if p.Total >= 0 {
		return p.Offset()+p.Count < p.Total
	}
	return p.Count == p.Size
}

// Pages is the page count, or zero when the total is unknown.
func (p Page) Pages() int {
	if p.Total < 0 {
		return 0
	}
	return max((p.Total+p.Size-1)/p.Size, 1)
}

func (p Page) PrevURL() string { return p.link(p.Number - 1) }
func (p Page) NextURL() string { return p.link(p.Number + 1) }

func (p Page) link(n int) string {
	q := url.Values{}
	for k, v := range p.query {
		if k != "notice" {
			q[k] = v
		}
	}
	q.Set("page", strconv.Itoa(n))
	q.Set("size", strconv.Itoa(p.Size))
	return "?" + q.Encode()
}
