package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/david/grant-tracker/internal/models"
)

var descriptionPolicy = bluemonday.UGCPolicy()

// HTMLToText sanitizes markup and flattens it to plain text with collapsed whitespace.
func HTMLToText(html string) string {
	safe := descriptionPolicy.Sanitize(html)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(safe))
	if err != nil {
		return normalizeSpace(safe)
	}
	doc.Find("br, p, li").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})
	return normalizeSpace(doc.Text())
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func appendUnique(list []string, v string) []string {
	v = normalizeSpace(v)
	if v == "" {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return list
		}
	}
	return append(list, v)
}

// Normalize maps an upstream candidate onto the Grant shape.
func Normalize(c Candidate, cls *Classifier, now time.Time) (models.Grant, error) {
	rec, d := c.Record, c.Detail
	ext := rec.ExternalID()
	if ext == "" {
		return models.Grant{}, fmt.Errorf("record without identifier")
	}

	name := normalizeSpace(rec.Descripcion)
	if name == "" && d != nil {
		name = normalizeSpace(d.Descripcion)
	}
	if name == "" {
		return models.Grant{}, fmt.Errorf("record %s has no title", ext)
	}

	level, l2, l3 := rec.Nivel1, rec.Nivel2, rec.Nivel3
	if d != nil && d.Organo != nil {
		level, l2, l3 = firstNonEmpty(d.Organo.Nivel1, level), firstNonEmpty(d.Organo.Nivel2, l2), firstNonEmpty(d.Organo.Nivel3, l3)
	}

	g := models.Grant{
		Name:       name,
		Source:     models.SourceBDNS,
		ExternalID: ext,
		Organization: models.Organization{
			Name: normalizeSpace(strings.Join(nonEmpty(l3, l2), " - ")),
			Type: cls.OrganizationType(level, l2, l3),
		},
		Links: models.Links{OfficialURL: PublicCallURL + ext},
	}

	if strings.EqualFold(strings.TrimSpace(level), "ESTATAL") {
		g.Geography.Region = models.RegionNational
	} else if l2 != "" {
		g.Geography.Region = regionSlug(l2)
	}

	received := parseDate(rec.FechaRecepcion)
	classifyText := name

	if d != nil {
		description := d.DescripcionFinalidad
		if description == "" {
			description = d.Descripcion
		}
		g.Description = HTMLToText(description)
		classifyText += " " + g.Description + " " + d.DescripcionBases

		g.Funding.MaxAmount = parseAmountJSON(d.PresupuestoTotal)
		g.Timeline.CallOpen = parseDate(d.FechaInicioSolicitud)
		g.Timeline.CallClose = parseDate(d.FechaFinSolicitud)
		if g.Timeline.CallOpen == nil {
			g.Timeline.CallOpen = parseDate(d.TextInicio)
		}
		if g.Timeline.CallClose == nil {
			g.Timeline.CallClose = parseDate(d.TextFin)
		}
		if g.Timeline.CallOpen != nil && g.Timeline.CallClose != nil && g.Timeline.CallClose.Before(*g.Timeline.CallOpen) {
			g.Timeline.CallClose = nil
		}
		if received == nil {
			received = parseDate(d.FechaRecepcion)
		}

		g.Links.BasesURL = strings.TrimSpace(d.URLBasesReguladoras)
		g.Links.ApplicationURL = strings.TrimSpace(d.SedeElectronica)

		for _, b := range d.TiposBeneficiarios {
			g.Classification.EligibleBeneficiaries = appendUnique(g.Classification.EligibleBeneficiaries, b.Descripcion)
		}
		for _, doc := range d.Documentos {
			g.RequiredDocuments = appendUnique(g.RequiredDocuments, firstNonEmpty(doc.Descripcion, doc.NombreFic))
		}
		for _, s := range d.Sectores {
			g.Tags = appendUnique(g.Tags, s.Descripcion)
		}
		for _, s := range d.Instrumentos {
			g.Tags = appendUnique(g.Tags, s.Descripcion)
		}
		if g.Geography.Region == "" && len(d.Regiones) > 0 {
			g.Geography.Region = regionSlug(d.Regiones[0].Descripcion)
		}
	}

	g.Classification.HeritageTypes = cls.HeritageTypesFor(classifyText)
	g.Classification.ProtectionLevels = cls.ProtectionLevelsFor(classifyText)

	g.Status = models.GrantActive
	if closeAt := g.Timeline.CallClose; closeAt != nil && endOfDay(*closeAt).Before(now) {
		g.Status = models.GrantClosed
	}

	switch {
	case g.Timeline.CallOpen != nil:
		g.Year = models.IntPtr(g.Timeline.CallOpen.Year())
	case g.Timeline.CallClose != nil:
		g.Year = models.IntPtr(g.Timeline.CallClose.Year())
	case received != nil:
		g.Year = models.IntPtr(received.Year())
	}

	return g, g.Validate()
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(vals ...string) []string {
	var out []string
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
