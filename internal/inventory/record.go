// Package inventory turns heterogeneous workstation audit spreadsheets into
// canonical records, checks them against compliance rules and scores them.
package inventory

// Canonical field names.
const (
	FieldAuditID           = "audit_id"
	FieldProveedor         = "proveedor"
	FieldSitio             = "sitio"
	FieldAtencion          = "atencion"
	FieldUsuarioID         = "usuario_id"
	FieldCPUBrand          = "cpu_brand"
	FieldCPUModel          = "cpu_model"
	FieldCPUSpeedGHz       = "cpu_speed_ghz"
	FieldRAMGB             = "ram_gb"
	FieldDiskType          = "disk_type"
	FieldDiskCapacityGB    = "disk_capacity_gb"
	FieldOSName            = "os_name"
	FieldOSVersion         = "os_version"
	FieldBrowserName       = "browser_name"
	FieldBrowserVersion    = "browser_version"
	FieldAntivirusBrand    = "antivirus_brand"
	FieldAntivirusModel    = "antivirus_model"
	FieldHeadsetBrand      = "headset_brand"
	FieldHeadsetModel      = "headset_model"
	FieldISPName           = "isp_name"
	FieldConnectionType    = "connection_type"
	FieldSpeedDownloadMbps = "speed_download_mbps"
	FieldSpeedUploadMbps   = "speed_upload_mbps"
)

// Canonical enum values.
const (
	AtencionOnSite     = "OS"
	AtencionHomeOffice = "HO"

	DiskHDD  = "HDD"
	DiskSSD  = "SSD"
	DiskNVME = "NVME"

	ConnectionFibra = "Fibra"
	ConnectionCable = "Cable"
	ConnectionDSL   = "DSL"
)

// RawRecord is one spreadsheet data row keyed by normalized header text.
type RawRecord map[string]string

// NormalizedRecord is an inventory row in the canonical schema.
// A nil field means the column was missing or its value could not be parsed.
type NormalizedRecord struct {
	AuditID           *string  `json:"audit_id"`
	Proveedor         *string  `json:"proveedor"`
	Sitio             *string  `json:"sitio"`
	Atencion          *string  `json:"atencion"`
	UsuarioID         *string  `json:"usuario_id"`
	CPUBrand          *string  `json:"cpu_brand"`
	CPUModel          *string  `json:"cpu_model"`
	CPUSpeedGHz       *float64 `json:"cpu_speed_ghz"`
	RAMGB             *float64 `json:"ram_gb"`
	DiskType          *string  `json:"disk_type"`
	DiskCapacityGB    *float64 `json:"disk_capacity_gb"`
	OSName            *string  `json:"os_name"`
	OSVersion         *string  `json:"os_version"`
	BrowserName       *string  `json:"browser_name"`
	BrowserVersion    *string  `json:"browser_version"`
	AntivirusBrand    *string  `json:"antivirus_brand"`
	AntivirusModel    *string  `json:"antivirus_model"`
	HeadsetBrand      *string  `json:"headset_brand"`
	HeadsetModel      *string  `json:"headset_model"`
	ISPName           *string  `json:"isp_name"`
	ConnectionType    *string  `json:"connection_type"`
	SpeedDownloadMbps *float64 `json:"speed_download_mbps"`
	SpeedUploadMbps   *float64 `json:"speed_upload_mbps"`
}

// Value returns the field's value, or nil when it is unset or unknown.
func (r *NormalizedRecord) Value(field string) any {
	switch field {
	case FieldAuditID:
		return str(r.AuditID)
	case FieldProveedor:
		return str(r.Proveedor)
	case FieldSitio:
		return str(r.Sitio)
	case FieldAtencion:
		return str(r.Atencion)
	case FieldUsuarioID:
		return str(r.UsuarioID)
	case FieldCPUBrand:
		return str(r.CPUBrand)
	case FieldCPUModel:
		return str(r.CPUModel)
	case FieldCPUSpeedGHz:
		return num(r.CPUSpeedGHz)
	case FieldRAMGB:
		return num(r.RAMGB)
	case FieldDiskType:
		return str(r.DiskType)
	case FieldDiskCapacityGB:
		return num(r.DiskCapacityGB)
	case FieldOSName:
		return str(r.OSName)
	case FieldOSVersion:
		return str(r.OSVersion)
	case FieldBrowserName:
		return str(r.BrowserName)
	case FieldBrowserVersion:
		return str(r.BrowserVersion)
	case FieldAntivirusBrand:
		return str(r.AntivirusBrand)
	case FieldAntivirusModel:
		return str(r.AntivirusModel)
	case FieldHeadsetBrand:
		return str(r.HeadsetBrand)
	case FieldHeadsetModel:
		return str(r.HeadsetModel)
	case FieldISPName:
		return str(r.ISPName)
	case FieldConnectionType:
		return str(r.ConnectionType)
	case FieldSpeedDownloadMbps:
		return num(r.SpeedDownloadMbps)
	case FieldSpeedUploadMbps:
		return num(r.SpeedUploadMbps)
	}
	return nil
}

// Populated reports whether field holds a value.
func (r *NormalizedRecord) Populated(field string) bool {
	return r.Value(field) != nil
}

// The interface must stay untyped nil for unset pointers.
func str(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func num(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
