// Package alerts matches grants against saved alert profiles and raises notifications.
package alerts

import (
	"strings"

	"github.com/david/grant-tracker/internal/models"
)

// Match reports whether g satisfies every non-empty facet of p.
// A grant without max_amount is treated as unbounded, as in search.
func Match(p *models.AlertProfile, g *models.Grant) bool {
	if len(p.Regions) > 0 && !containsFold(p.Regions, g.Geography.Region) {
		return false
	}
	if len(p.HeritageTypes) > 0 && !intersectsFold(p.HeritageTypes, g.Classification.HeritageTypes) {
		return false
	}
	if len(p.OrganizationTypes) > 0 && !containsFold(p.OrganizationTypes, g.Organization.Type) {
		return false
	}
	if p.MinAmount != nil && g.Funding.MaxAmount != nil && *g.Funding.MaxAmount < *p.MinAmount {
		return false
	}
	return true
}

func containsFold(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}

func intersectsFold(a, b []string) bool {
	for _, v := range b {
		if containsFold(a, v) {
			return true
		}
	}
	return false
}
