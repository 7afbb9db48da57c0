package ingest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/grant-tracker/internal/models"
)

func testClassifier(t *testing.T) *Classifier {
	t.Helper()
	cls, err := NewClassifier()
	require.NoError(t, err)
	return cls
}

func TestNormalize_WithDetail(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	c := Candidate{
		Record: Record{
			ID:                 json.Number("812345"),
			NumeroConvocatoria: "812345",
			Descripcion:        "  Subvenciones para la restauración de ermitas  ",
			FechaRecepcion:     "2025-01-05",
			Nivel1:             "AUTONOMICA",
			Nivel2:             "CASTILLA Y LEÓN",
			Nivel3:             "CONSEJERÍA DE CULTURA",
		},
		Detail: &Detail{
			DescripcionFinalidad: "<p>Conservación de <b>bienes</b> religiosos</p><script>alert(1)</script>",
			PresupuestoTotal:     json.RawMessage(`"150.000,00"`),
			FechaInicioSolicitud: "15/01/2025",
			FechaFinSolicitud:    "2025-03-10",
			URLBasesReguladoras:  "https://bocyl.example/bases",
			TiposBeneficiarios:   []described{{"ENTIDADES LOCALES"}, {"Entidades locales"}},
			Documentos:           []document{{Descripcion: "Memoria técnica"}, {NombreFic: "presupuesto.pdf"}},
			Sectores:             []described{{"Cultura"}},
		},
	}

	g, err := Normalize(c, testClassifier(t), now)
	require.NoError(t, err)

	assert.Equal(t, "Subvenciones para la restauración de ermitas", g.Name)
	assert.Equal(t, "Conservación de bienes religiosos", g.Description)
	assert.Equal(t, "autonomica", g.Organization.Type)
	assert.Equal(t, "castilla-y-leon", g.Geography.Region)
	assert.Equal(t, []string{"religioso"}, g.Classification.HeritageTypes)
	assert.Equal(t, []string{"ENTIDADES LOCALES"}, g.Classification.EligibleBeneficiaries)
	assert.Equal(t, []string{"Memoria técnica", "presupuesto.pdf"}, g.RequiredDocuments)
	assert.Equal(t, 150000.0, *g.Funding.MaxAmount)
	assert.Nil(t, g.Funding.MinAmount)
	assert.Equal(t, "2025-01-15", g.Timeline.CallOpen.Format(time.DateOnly))
	assert.Equal(t, "2025-03-10", g.Timeline.CallClose.Format(time.DateOnly))
	assert.Equal(t, models.GrantActive, g.Status)
	assert.Equal(t, 2025, *g.Year)
	assert.Equal(t, PublicCallURL+"812345", g.Links.OfficialURL)
	assert.Equal(t, "812345", g.ExternalID)
	assert.Equal(t, models.SourceBDNS, g.Source)
}

func TestNormalize_StateOrganIsNational(t *testing.T) {
	c := Candidate{Record: Record{
		ID:             json.Number("1"),
		Descripcion:    "Ayudas 1,5% cultural",
		FechaRecepcion: "2024-06-01",
		Nivel1:         "ESTATAL",
		Nivel2:         "MINISTERIO DE TRANSPORTES",
	}}
	g, err := Normalize(c, testClassifier(t), time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.RegionNational, g.Geography.Region)
	assert.Equal(t, "estatal", g.Organization.Type)
	assert.Equal(t, []string{models.HeritageGeneral}, g.Classification.HeritageTypes)
	assert.Equal(t, 2024, *g.Year)
	assert.Equal(t, models.GrantActive, g.Status)
}

func TestNormalize_ClosedWhenDeadlinePassed(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c := Candidate{
		Record: Record{ID: json.Number("2"), Descripcion: "Convocatoria cerrada"},
		Detail: &Detail{FechaFinSolicitud: "2025-03-10"},
	}
	g, err := Normalize(c, testClassifier(t), now)
	require.NoError(t, err)
	assert.Equal(t, models.GrantClosed, g.Status)
}

func TestNormalize_InvertedWindowDropsClose(t *testing.T) {
	c := Candidate{
		Record: Record{ID: json.Number("3"), Descripcion: "Fechas invertidas"},
		Detail: &Detail{FechaInicioSolicitud: "2025-05-01", FechaFinSolicitud: "2025-04-01"},
	}
	g, err := Normalize(c, testClassifier(t), time.Now())
	require.NoError(t, err)
	assert.Nil(t, g.Timeline.CallClose)
}

func TestNormalize_RejectsUntitled(t *testing.T) {
	_, err := Normalize(Candidate{Record: Record{ID: json.Number("4")}}, testClassifier(t), time.Now())
	assert.Error(t, err)
}

func TestHTMLToText(t *testing.T) {
	assert.Equal(t, "Uno dos tres", HTMLToText("<p>Uno</p><p>dos <i>tres</i></p>"))
	assert.Equal(t, "texto", HTMLToText("<script>x()</script>texto"))
}
