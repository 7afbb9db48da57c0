// Package search compiles grant search facets into a store predicate.
//
// The same compiled Query drives the Postgres store (through Where and OrderBy)
// and the in-memory store (through Matches and Less), so both return identical
// result sets for identical facets.
package search

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/david/grant-tracker/internal/apperr"
	"github.com/david/grant-tracker/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Facets are the optional grant filters plus pagination.
type Facets struct {
	Text             string
	Region           string
	OrganizationType string
	HeritageType     string
	Status           models.GrantStatus
	MinAmount        *float64
	MaxAmount        *float64
	Year             *int
	Page             int
	PageSize         int
}

// canonical key for every accepted query parameter.
var paramKeys = map[string]string{
	"text":              "text",
	"q":                 "text",
	"region":            "region",
	"organization_type": "organization_type",
	"organizationType":  "organization_type",
	"heritage_type":     "heritage_type",
	"heritageType":      "heritage_type",
	"min_amount":        "min_amount",
	"minAmount":         "min_amount",
	"max_amount":        "max_amount",
	"maxAmount":         "max_amount",
	"status":            "status",
	"year":              "year",
	"page":              "page",
	"page_size":         "page_size",
	"pageSize":          "page_size",
	"limit":             "page_size",
	"sort":              "sort",
}

var sortKeys = map[string]bool{"": true, "deadline": true}

// ParseValues reads facets from URL query values. Unknown keys and sort orders are rejected.
func ParseValues(values url.Values) (Facets, error) {
	var f Facets
	for key, vals := range values {
		canon, ok := paramKeys[key]
		if !ok {
			return Facets{}, apperr.Invalid(key, "unknown filter")
		}
		v := ""
		if len(vals) > 0 {
			v = strings.TrimSpace(vals[len(vals)-1])
		}
		if v == "" {
			continue
		}

		switch canon {
		case "text":
			f.Text = v
		case "region":
			f.Region = v
		case "organization_type":
			f.OrganizationType = v
		case "heritage_type":
			f.HeritageType = v
		case "status":
			f.Status = models.GrantStatus(strings.ToLower(v))
		case "min_amount", "max_amount":
			n, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
				return Facets{}, apperr.Invalid(canon, "must be a number")
			}
			if canon == "min_amount" {
				f.MinAmount = &n
			} else {
				f.MaxAmount = &n
			}
		case "year", "page", "page_size":
			n, err := strconv.Atoi(v)
			if err != nil {
				return Facets{}, apperr.Invalid(canon, "must be an integer")
			}
			switch canon {
			case "year":
				f.Year = &n
			case "page":
				f.Page = n
			default:
				f.PageSize = n
			}
		case "sort":
			if !sortKeys[v] {
				return Facets{}, apperr.Invalid("sort", "unsupported sort key "+strconv.Quote(v))
			}
		}
	}
	return f, nil
}

// Query is a validated, normalized facet set.
type Query struct {
	f      Facets
	text   string
	region string
	orgTyp string
	herTyp string
}

// Compile validates facets and fills pagination defaults.
func Compile(f Facets) (Query, error) {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.Page < 1 {
		return Query{}, apperr.Invalid("page", "must be at least 1")
	}
	if f.PageSize == 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize < 1 || f.PageSize > MaxPageSize {
		return Query{}, apperr.Invalid("page_size", "must be between 1 and 100")
	}
	if f.Status != "" && !f.Status.Valid() {
		return Query{}, apperr.Invalid("status", "must be one of active, closed, draft")
	}
	if f.MinAmount != nil && *f.MinAmount < 0 {
		return Query{}, apperr.Invalid("min_amount", "must not be negative")
	}
	if f.MaxAmount != nil && *f.MaxAmount < 0 {
		return Query{}, apperr.Invalid("max_amount", "must not be negative")
	}
	if f.MinAmount != nil && f.MaxAmount != nil && *f.MinAmount > *f.MaxAmount {
		return Query{}, apperr.Invalid("min_amount", "must not exceed max_amount")
	}
	if f.Year != nil && (*f.Year < 1900 || *f.Year > 2999) {
		return Query{}, apperr.Invalid("year", "out of range")
	}

	return Query{
		f:      f,
		text:   strings.ToLower(strings.TrimSpace(f.Text)),
		region: strings.ToLower(strings.TrimSpace(f.Region)),
		orgTyp: strings.ToLower(strings.TrimSpace(f.OrganizationType)),
		herTyp: strings.ToLower(strings.TrimSpace(f.HeritageType)),
	}, nil
}

func (q Query) Facets() Facets { return q.f }

func (q Query) Page() int { return q.f.Page }

func (q Query) Limit() int { return q.f.PageSize }

func (q Query) Offset() int { return (q.f.Page - 1) * q.f.PageSize }

// Where returns the predicate shared by the count and the fetch statements.
func (q Query) Where() sq.Sqlizer {
	and := sq.And{}
	if q.text != "" {
		pattern := "%" + escapeLike(q.text) + "%"
		and = append(and, sq.Or{
			sq.ILike{"name": pattern},
			sq.ILike{"description": pattern},
			sq.ILike{"organization_name": pattern},
		})
	}
	if q.region != "" {
		and = append(and, sq.Expr("LOWER(region) IN (?, ?)", q.region, models.RegionNational))
	}
	if q.orgTyp != "" {
		and = append(and, sq.Expr("LOWER(organization_type) = ?", q.orgTyp))
	}
	if q.herTyp != "" {
		and = append(and, sq.Expr("EXISTS (SELECT 1 FROM unnest(heritage_types) AS h WHERE LOWER(h) = ?)", q.herTyp))
	}
	if q.f.Status != "" {
		and = append(and, sq.Eq{"status": string(q.f.Status)})
	}
	if q.f.Year != nil {
		and = append(and, sq.Eq{"year": *q.f.Year})
	}
	if q.f.MinAmount != nil {
		and = append(and, sq.Or{sq.Eq{"max_amount": nil}, sq.GtOrEq{"max_amount": *q.f.MinAmount}})
	}
	if q.f.MaxAmount != nil {
		and = append(and, sq.Or{sq.Eq{"min_amount": nil}, sq.LtOrEq{"min_amount": *q.f.MaxAmount}})
	}
	if len(and) == 0 {
		return sq.Expr("TRUE")
	}
	return and
}

// OrderBy is the deterministic result order: closing date first, undated last.
func (q Query) OrderBy() []string {
	return []string{"call_close ASC NULLS LAST", "created_at DESC", "id ASC"}
}

// Matches evaluates the predicate against a grant in memory.
func (q Query) Matches(g *models.Grant) bool {
	if q.text != "" &&
		!strings.Contains(strings.ToLower(g.Name), q.text) &&
		!strings.Contains(strings.ToLower(g.Description), q.text) &&
		!strings.Contains(strings.ToLower(g.Organization.Name), q.text) {
		return false
	}
	if q.region != "" && strings.ToLower(g.Geography.Region) != q.region && !strings.EqualFold(g.Geography.Region, models.RegionNational) {
		return false
	}
	if q.orgTyp != "" && strings.ToLower(g.Organization.Type) != q.orgTyp {
		return false
	}
	if q.herTyp != "" && !g.HasHeritageType(q.herTyp) {
		return false
	}
	if q.f.Status != "" && g.Status != q.f.Status {
		return false
	}
	if q.f.Year != nil && (g.Year == nil || *g.Year != *q.f.Year) {
		return false
	}
	if q.f.MinAmount != nil && g.Funding.MaxAmount != nil && *g.Funding.MaxAmount < *q.f.MinAmount {
		return false
	}
	if q.f.MaxAmount != nil && g.Funding.MinAmount != nil && *g.Funding.MinAmount > *q.f.MaxAmount {
		return false
	}
	return true
}

// Less orders grants the same way OrderBy does.
func Less(a, b *models.Grant) bool {
	ac, bc := a.Timeline.CallClose, b.Timeline.CallClose
	switch {
	case ac != nil && bc == nil:
		return true
	case ac == nil && bc != nil:
		return false
	case ac != nil && bc != nil && !ac.Equal(*bc):
		return ac.Before(*bc)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Pagination is the paging envelope returned with search results.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func NewPagination(q Query, total int) Pagination {
	pages := 0
	if total > 0 {
		pages = (total + q.Limit() - 1) / q.Limit()
	}
	return Pagination{Page: q.Page(), Limit: q.Limit(), Total: total, TotalPages: pages}
}

// Result is one page of grants.
type Result struct {
	Grants     []models.Grant `json:"grants"`
	Pagination Pagination     `json:"pagination"`
}
