package inventory

import (
	"regexp"
	"strings"
)

// FieldMapping lists, in priority order, the header patterns that identify
// one canonical field. Headers matching any Exclude pattern are never used.
type FieldMapping struct {
	Field    string
	Patterns []*regexp.Regexp
	Exclude  []*regexp.Regexp
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// word matches a whole token inside a header like "ram (gb)" or "ram_gb".
func word(w string) string {
	return `(^|[^a-z])` + w + `([^a-z]|$)`
}

const (
	cpuWords     = `(cpu|procesador|processor)`
	headsetWords = `(diadema|headset|auricular|aud[ií]fono)`
	versionWords = `(versi[oó]n|version|ver\.)`
	modelWords   = `(modelo|model|producto|product)`
	brandWords   = `(marca|brand|fabricante)`
)

// DefaultMappings is the ordered synonym table used for header inference.
// New synonyms are added here; evaluation order is fixed by slice order.
var DefaultMappings = []FieldMapping{
	{Field: FieldAuditID, Patterns: patterns(`audit.?id`, `id.?auditor[ií]a`, `^auditor[ií]a$`)},
	{Field: FieldProveedor, Patterns: patterns(`proveedor`, `vendor`, `supplier`), Exclude: patterns(`internet`, word(`isp`), `servicio`)},
	{Field: FieldSitio, Patterns: patterns(`sitio`, `sede`, word(`site`), `ubicaci[oó]n`, `location`)},
	{Field: FieldAtencion, Patterns: patterns(`atenci[oó]n`, `modalidad`, `modality`, `work.?mode`)},
	{Field: FieldUsuarioID, Patterns: patterns(`usuario.?id`, `id.?usuario`, `user.?id`, `n[uú]mero.*empleado`, `usuario`, word(`user`), `empleado`, `employee`)},
	{Field: FieldCPUBrand, Patterns: patterns(brandWords+`.*`+cpuWords, cpuWords+`.*`+brandWords)},
	{Field: FieldCPUModel, Patterns: patterns(modelWords+`.*`+cpuWords, cpuWords+`.*`+modelWords, `^`+cpuWords+`$`, cpuWords),
		Exclude: patterns(`velocidad`, `speed`, `frecuencia`, `ghz`, brandWords)},
	{Field: FieldCPUSpeedGHz, Patterns: patterns(`velocidad.*`+cpuWords, cpuWords+`.*(velocidad|speed|frecuencia|ghz)`, `ghz`, `frecuencia`, `clock`)},
	{Field: FieldRAMGB, Patterns: patterns(word(`ram`), `memoria`, `memory`)},
	{Field: FieldDiskType, Patterns: patterns(`tipo.*(disco|almacenamiento)`, `(disk|disco|storage|almacenamiento).*(type|tipo)`, `^(disco|disk|almacenamiento|storage)`)},
	{Field: FieldDiskCapacityGB, Patterns: patterns(`capacidad.*(disco|almacenamiento)`, `(disk|disco|storage|almacenamiento).*(capacidad|capacity|size|tama[nñ]o)`, `^(disco|disk|almacenamiento|storage)`),
		Exclude: patterns(`tipo`, `type`)},
	{Field: FieldOSName, Patterns: patterns(`sistema.?operativo`, `operating.?system`, word(`so`), word(`os`)),
		Exclude: patterns(versionWords, `build`)},
	{Field: FieldOSVersion, Patterns: patterns(versionWords+`.*(sistema|`+word(`so`)+`|`+word(`os`)+`)`, `(sistema operativo|`+word(`so`)+`|`+word(`os`)+`).*`+versionWords, `build`)},
	{Field: FieldBrowserName, Patterns: patterns(`navegador`, `browser`), Exclude: patterns(versionWords)},
	{Field: FieldBrowserVersion, Patterns: patterns(versionWords+`.*(navegador|browser)`, `(navegador|browser).*`+versionWords)},
	{Field: FieldAntivirusBrand, Patterns: patterns(brandWords+`.*antivirus`, `antivirus.*`+brandWords, `antivirus`), Exclude: patterns(modelWords, versionWords)},
	{Field: FieldAntivirusModel, Patterns: patterns(`antivirus.*`+modelWords, `antivirus.*`+versionWords, modelWords+`.*antivirus`)},
	{Field: FieldHeadsetBrand, Patterns: patterns(brandWords+`.*`+headsetWords, headsetWords+`.*`+brandWords, headsetWords), Exclude: patterns(modelWords)},
	{Field: FieldHeadsetModel, Patterns: patterns(headsetWords+`.*`+modelWords, modelWords+`.*`+headsetWords)},
	{Field: FieldISPName, Patterns: patterns(word(`isp`), `proveedor.*(internet|servicio)`, `(internet|servicio).*proveedor`, `compa[nñ][ií]a.*internet`, `internet.?provider`)},
	{Field: FieldConnectionType, Patterns: patterns(`tipo.*(conexi[oó]n|internet)`, `(conexi[oó]n|connection).*(tipo|type)`, `conexi[oó]n`, `connection`),
		Exclude: patterns(`velocidad`, `speed`, `descarga`, `subida`)},
	{Field: FieldSpeedDownloadMbps, Patterns: patterns(`descarga`, `download`, `bajada`)},
	{Field: FieldSpeedUploadMbps, Patterns: patterns(`subida`, `upload`, `^carga`)},
}

// Binding records which header feeds each canonical field of one sheet.
type Binding map[string]string

// NormalizeHeader is the column key for a header cell.
func NormalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// Bind resolves each mapping against headers. For every field the patterns
// are tried in order and, per pattern, headers in column order; the first
// match wins. Unmatched fields are absent from the result.
func Bind(mappings []FieldMapping, headers []string) Binding {
	b := make(Binding, len(mappings))
	for _, m := range mappings {
		if h, ok := match(m, headers); ok {
			b[m.Field] = h
		}
	}
	return b
}

func match(m FieldMapping, headers []string) (string, bool) {
	for _, p := range m.Patterns {
		for _, h := range headers {
			if h == "" || !p.MatchString(h) || excluded(m.Exclude, h) {
				continue
			}
			return h, true
		}
	}
	return "", false
}

func excluded(ex []*regexp.Regexp, h string) bool {
	for _, e := range ex {
		if e.MatchString(h) {
			return true
		}
	}
	return false
}
