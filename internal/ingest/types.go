package ingest

import (
	"context"
	"encoding/json"
	"strings"
)

// Record is one hit of the registry search endpoint.
type Record struct {
	ID                 json.Number `json:"id"`
	NumeroConvocatoria string      `json:"numeroConvocatoria"`
	Descripcion        string      `json:"descripcion"`
	DescripcionLeng    string      `json:"descripcionLeng"`
	FechaRecepcion     string      `json:"fechaRecepcion"`
	Nivel1             string      `json:"nivel1"`
	Nivel2             string      `json:"nivel2"`
	Nivel3             string      `json:"nivel3"`
}

// ExternalID is the registry's stable identifier for the call.
func (r Record) ExternalID() string {
	if r.NumeroConvocatoria != "" {
		return strings.TrimSpace(r.NumeroConvocatoria)
	}
	return r.ID.String()
}

type described struct {
	Descripcion string `json:"descripcion"`
}

type document struct {
	Descripcion string `json:"descripcion"`
	NombreFic   string `json:"nombreFic"`
}

// Detail is the registry's full view of one call. Amounts and dates arrive in mixed formats.
type Detail struct {
	CodigoBDNS            string          `json:"codigoBDNS"`
	Organo                *organ          `json:"organo"`
	SedeElectronica       string          `json:"sedeElectronica"`
	FechaRecepcion        string          `json:"fechaRecepcion"`
	PresupuestoTotal      json.RawMessage `json:"presupuestoTotal"`
	Descripcion           string          `json:"descripcion"`
	DescripcionFinalidad  string          `json:"descripcionFinalidad"`
	DescripcionBases      string          `json:"descripcionBasesReguladoras"`
	URLBasesReguladoras   string          `json:"urlBasesReguladoras"`
	Abierto               *bool           `json:"abierto"`
	FechaInicioSolicitud  string          `json:"fechaInicioSolicitud"`
	FechaFinSolicitud     string          `json:"fechaFinSolicitud"`
	TextInicio            string          `json:"textInicio"`
	TextFin               string          `json:"textFin"`
	TiposBeneficiarios    []described     `json:"tiposBeneficiarios"`
	Sectores              []described     `json:"sectores"`
	Instrumentos          []described     `json:"instrumentos"`
	Regiones              []described     `json:"regiones"`
	Documentos            []document      `json:"documentos"`
}

type organ struct {
	Nivel1 string `json:"nivel1"`
	Nivel2 string `json:"nivel2"`
	Nivel3 string `json:"nivel3"`
}

// Candidate is an upstream record plus its optional detail.
type Candidate struct {
	Record Record
	Detail *Detail
}

type SearchParams struct {
	Term     string
	OpenOnly bool
	Page     int
	PageSize int
}

type SearchPage struct {
	Records []Record `json:"content"`
	Total   int      `json:"totalElements"`
}

// Source is the external registry.
type Source interface {
	Search(ctx context.Context, p SearchParams) (*SearchPage, error)
	Detail(ctx context.Context, externalID string) (*Detail, error)
}
