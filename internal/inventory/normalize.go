package inventory

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// label maps raw text to a canonical value when any needle is a substring
// of the lowercased input.
type label struct {
	needles   []string
	canonical string
}

// Tables are evaluated top to bottom; more specific needles come first.
var (
	cpuBrandLabels = []label{
		{[]string{"intel", "core i", "xeon", "celeron", "pentium"}, "Intel"},
		{[]string{"amd", "ryzen", "athlon"}, "AMD"},
		{[]string{"apple"}, "Apple"},
		{[]string{"qualcomm", "snapdragon"}, "Qualcomm"},
	}
	osLabels = []label{
		{[]string{"windows 11", "win11", "win 11", "w11"}, "Windows 11"},
		{[]string{"windows 10", "win10", "win 10", "w10"}, "Windows 10"},
		{[]string{"windows 8", "win8"}, "Windows 8"},
		{[]string{"windows 7", "win7"}, "Windows 7"},
		{[]string{"macos", "mac os", "os x", "osx"}, "macOS"},
		{[]string{"chrome os", "chromeos"}, "ChromeOS"},
		{[]string{"ubuntu"}, "Ubuntu"},
		{[]string{"linux"}, "Linux"},
	}
	browserLabels = []label{
		{[]string{"chrome"}, "Chrome"},
		{[]string{"firefox", "mozilla"}, "Firefox"},
		{[]string{"edge"}, "Edge"},
		{[]string{"safari"}, "Safari"},
		{[]string{"opera"}, "Opera"},
		{[]string{"brave"}, "Brave"},
	}
	antivirusLabels = []label{
		{[]string{"bitdefender"}, "Bitdefender"},
		{[]string{"defender"}, "Windows Defender"},
		{[]string{"eset", "nod32"}, "ESET"},
		{[]string{"kaspersky"}, "Kaspersky"},
		{[]string{"mcafee"}, "McAfee"},
		{[]string{"norton", "symantec"}, "Norton"},
		{[]string{"sophos"}, "Sophos"},
		{[]string{"avast"}, "Avast"},
		{[]string{"avg"}, "AVG"},
		{[]string{"trend micro", "trendmicro"}, "Trend Micro"},
		{[]string{"crowdstrike", "falcon"}, "CrowdStrike"},
		{[]string{"sentinel"}, "SentinelOne"},
	}
	headsetLabels = []label{
		{[]string{"jabra"}, "Jabra"},
		{[]string{"logitech"}, "Logitech"},
		{[]string{"plantronics", "poly"}, "Plantronics"},
		{[]string{"sennheiser", "epos"}, "Sennheiser"},
		{[]string{"hyperx"}, "HyperX"},
		{[]string{"sony"}, "Sony"},
		{[]string{"genius"}, "Genius"},
		{[]string{"steren"}, "Steren"},
	}
	connectionLabels = []label{
		{[]string{"fibra", "fiber", "fibre", "ftth", "óptica", "optica"}, ConnectionFibra},
		{[]string{"cable", "coaxial", "hfc"}, ConnectionCable},
		{[]string{"dsl"}, ConnectionDSL},
	}
	diskTypeLabels = []label{
		{[]string{"nvme"}, DiskNVME},
		{[]string{"ssd", "solid", "estado sólido", "estado solido"}, DiskSSD},
		{[]string{"hdd", "hard disk", "disco duro", "mecánico", "mecanico", "sata hd"}, DiskHDD},
	}
	atencionLabels = []label{
		{[]string{"home", "ho"}, AtencionHomeOffice},
		{[]string{"site", "os", "sitio"}, AtencionOnSite},
	}
)

// Normalizer converts raw rows of one sheet to canonical records.
type Normalizer struct {
	binding Binding
}

// NewNormalizer binds mappings to the sheet's normalized headers.
func NewNormalizer(mappings []FieldMapping, headers []string) *Normalizer {
	return &Normalizer{binding: Bind(mappings, headers)}
}

// Binding returns the header chosen for each mapped field.
func (n *Normalizer) Binding() Binding {
	out := make(Binding, len(n.binding))
	for k, v := range n.binding {
		out[k] = v
	}
	return out
}

// Normalize never fails: anything missing or unparseable becomes nil.
func (n *Normalizer) Normalize(raw RawRecord) NormalizedRecord {
	get := func(field string) string {
		h, ok := n.binding[field]
		if !ok {
			return ""
		}
		return strings.TrimSpace(raw[h])
	}

	cpuModel := text(get(FieldCPUModel))
	cpuBrand := labelOrRaw(get(FieldCPUBrand), cpuBrandLabels)
	if cpuBrand == nil && cpuModel != nil {
		cpuBrand = labelOnly(*cpuModel, cpuBrandLabels)
	}

	return NormalizedRecord{
		AuditID:           text(get(FieldAuditID)),
		Proveedor:         text(get(FieldProveedor)),
		Sitio:             text(get(FieldSitio)),
		Atencion:          labelOrRaw(get(FieldAtencion), atencionLabels),
		UsuarioID:         text(get(FieldUsuarioID)),
		CPUBrand:          cpuBrand,
		CPUModel:          cpuModel,
		CPUSpeedGHz:       ParseCPUSpeed(get(FieldCPUSpeedGHz)),
		RAMGB:             ParseRAM(get(FieldRAMGB)),
		DiskType:          labelOnly(get(FieldDiskType), diskTypeLabels),
		DiskCapacityGB:    ParseDiskCapacity(get(FieldDiskCapacityGB)),
		OSName:            labelOrRaw(get(FieldOSName), osLabels),
		OSVersion:         text(get(FieldOSVersion)),
		BrowserName:       labelOrRaw(get(FieldBrowserName), browserLabels),
		BrowserVersion:    text(get(FieldBrowserVersion)),
		AntivirusBrand:    labelOrRaw(get(FieldAntivirusBrand), antivirusLabels),
		AntivirusModel:    text(get(FieldAntivirusModel)),
		HeadsetBrand:      labelOrRaw(get(FieldHeadsetBrand), headsetLabels),
		HeadsetModel:      text(get(FieldHeadsetModel)),
		ISPName:           text(get(FieldISPName)),
		ConnectionType:    labelOrRaw(get(FieldConnectionType), connectionLabels),
		SpeedDownloadMbps: ParseBandwidth(get(FieldSpeedDownloadMbps)),
		SpeedUploadMbps:   ParseBandwidth(get(FieldSpeedUploadMbps)),
	}
}

func text(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func lookup(s string, table []label) (string, bool) {
	lower := strings.ToLower(s)
	for _, l := range table {
		for _, n := range l.needles {
			if strings.Contains(lower, n) {
				return l.canonical, true
			}
		}
	}
	return "", false
}

// labelOrRaw returns the canonical label, or the raw value when unrecognized.
func labelOrRaw(s string, table []label) *string {
	if s == "" {
		return nil
	}
	if c, ok := lookup(s, table); ok {
		return &c
	}
	return &s
}

// labelOnly is for closed enums: unrecognized values become nil.
func labelOnly(s string, table []label) *string {
	if s == "" {
		return nil
	}
	if c, ok := lookup(s, table); ok {
		return &c
	}
	return nil
}

var (
	quantityRe  = regexp.MustCompile(`(\d+(?:[.,]\d+)*)\s*([a-zµ]+)?`)
	thousandsRe = regexp.MustCompile(`^\d{1,3}(,\d{3})+$`)
)

// parseQuantity extracts a number and the unit word right after it. The first
// number carrying a unit wins, so "M.2 512GB" reads as 512 gb.
func parseQuantity(s string) (float64, string, bool) {
	all := quantityRe.FindAllStringSubmatch(strings.ToLower(s), -1)
	if len(all) == 0 {
		return 0, "", false
	}
	m := all[0]
	for _, c := range all {
		if c[2] != "" {
			m = c
			break
		}
	}
	digits := m[1]
	if thousandsRe.MatchString(digits) {
		digits = strings.ReplaceAll(digits, ",", "")
	} else {
		digits = strings.ReplaceAll(digits, ",", ".")
	}
	v, err := strconv.ParseFloat(digits, 64)
	if err != nil {
		return 0, "", false
	}
	return v, m[2], true
}

// ParseCPUSpeed returns GHz. A bare number of 100 or more is read as MHz.
func ParseCPUSpeed(s string) *float64 {
	v, unit, ok := parseQuantity(s)
	if !ok {
		return nil
	}
	switch {
	case strings.HasPrefix(unit, "mhz"):
		v /= 1000
	case strings.HasPrefix(unit, "ghz"):
	case unit == "" && v >= 100:
		v /= 1000
	}
	return ptr(round(v, 2))
}

// ParseRAM returns GB; MB values are converted and rounded. A bare number
// of at least 1024 is taken as MB.
func ParseRAM(s string) *float64 {
	v, unit, ok := parseQuantity(s)
	if !ok {
		return nil
	}
	switch {
	case unit == "mb", unit == "m", unit == "mib", unit == "" && v >= 1024:
		v = math.Round(v / 1024)
	case unit == "tb", unit == "t", unit == "tib":
		v *= 1024
	}
	return ptr(v)
}

// ParseDiskCapacity returns whole GB from GB, TB or MB input.
func ParseDiskCapacity(s string) *float64 {
	v, unit, ok := parseQuantity(s)
	if !ok {
		return nil
	}
	switch unit {
	case "tb", "t", "tib":
		v *= 1024
	case "mb", "m", "mib":
		v /= 1024
	}
	return ptr(math.Round(v))
}

// ParseBandwidth returns Mbps from Kbps, Mbps or Gbps input.
func ParseBandwidth(s string) *float64 {
	v, unit, ok := parseQuantity(s)
	if !ok {
		return nil
	}
	switch {
	case strings.HasPrefix(unit, "k"):
		v /= 1000
	case strings.HasPrefix(unit, "g"):
		v *= 1000
	}
	return ptr(round(v, 2))
}

func ptr(v float64) *float64 { return &v }

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
