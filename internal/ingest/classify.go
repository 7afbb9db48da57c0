package ingest

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/david/grant-tracker/internal/models"
)

//go:embed classification.yaml
var classificationYAML []byte

// Classifier assigns heritage types, protection levels and organization types by keyword.
type Classifier struct {
	HeritageTypes     map[string][]string `yaml:"heritage_types"`
	ProtectionLevels  map[string][]string `yaml:"protection_levels"`
	OrganizationTypes map[string][]string `yaml:"organization_types"`
}

// organizationOrder decides ties: a foundation run by a ministry is still a foundation.
var organizationOrder = []string{"fundacion", "europea", "provincial", "local", "autonomica", "estatal"}

const OrgOther = "otros"

func NewClassifier() (*Classifier, error) {
	return ParseClassifier(classificationYAML)
}

func ParseClassifier(data []byte) (*Classifier, error) {
	var c Classifier
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing classification table: %w", err)
	}
	if len(c.HeritageTypes) == 0 {
		return nil, fmt.Errorf("classification table has no heritage types")
	}
	return &c, nil
}

// fold lower-cases and strips diacritics so "Diputación" matches "diputacion".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return " " + strings.ToLower(strings.Join(strings.Fields(out), " ")) + " "
}

func matchKeys(table map[string][]string, text string) []string {
	var out []string
	for key, keywords := range table {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				out = append(out, key)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// HeritageTypesFor never returns an empty set.
func (c *Classifier) HeritageTypesFor(text string) []string {
	if types := matchKeys(c.HeritageTypes, fold(text)); len(types) > 0 {
		return types
	}
	return []string{models.HeritageGeneral}
}

func (c *Classifier) ProtectionLevelsFor(text string) []string {
	return matchKeys(c.ProtectionLevels, fold(text))
}

// OrganizationType combines the registry administration level with the organ names.
func (c *Classifier) OrganizationType(level string, names ...string) string {
	text := fold(strings.Join(names, " "))
	matched := map[string]bool{}
	for _, k := range matchKeys(c.OrganizationTypes, text) {
		matched[k] = true
	}
	for _, k := range []string{"fundacion", "europea"} {
		if matched[k] {
			return k
		}
	}

	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "ESTATAL":
		return "estatal"
	case "AUTONOMICA":
		return "autonomica"
	case "LOCAL":
		if matched["provincial"] {
			return "provincial"
		}
		return "local"
	}
	for _, k := range organizationOrder {
		if matched[k] {
			return k
		}
	}
	return OrgOther
}

// regionSlug turns "ES61 - ANDALUCÍA" or "Andalucía" into "andalucia".
func regionSlug(s string) string {
	if i := strings.LastIndex(s, " - "); i >= 0 {
		s = s[i+3:]
	}
	return strings.ReplaceAll(strings.TrimSpace(fold(s)), " ", "-")
}
