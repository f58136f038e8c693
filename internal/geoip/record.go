package geoip

// 文档注释：查询返回结构（对外）
// 背景：每个子字段独立可空；源记录缺失的字段以 null 输出，表示“未知”，不填充默认值。
// 约束：JSON 字段名与既有客户端保持一致（camelCase），新增字段需评估兼容性。
type Record struct {
	IPAddress                    string   `json:"ipAddress"`
	City                         *string  `json:"city"`
	Country                      *string  `json:"country"`
	CountryISOCode               *string  `json:"countryIsoCode"`
	Continent                    *string  `json:"continent"`
	PostalCode                   *string  `json:"postalCode"`
	Latitude                     *float64 `json:"latitude"`
	Longitude                    *float64 `json:"longitude"`
	TimeZone                     *string  `json:"timeZone"`
	ISP                          *string  `json:"isp"`
	Organization                 *string  `json:"organization"`
	AutonomousSystemNumber       *uint    `json:"autonomousSystemNumber"`
	AutonomousSystemOrganization *string  `json:"autonomousSystemOrganization"`
	Domain                       *string  `json:"domain"`
	IsAnonymousProxy             *bool    `json:"isAnonymousProxy"`
	IsSatelliteProvider          *bool    `json:"isSatelliteProvider"`
}

type names map[string]string

// mmdbRecord 覆盖 City/Enterprise 库（traits 下）与 ASN/ISP 库（顶层）的字段布局。
// 指针字段由解码器按需分配，未出现的字段保持 nil。
type mmdbRecord struct {
	City struct {
		Names names `maxminddb:"names"`
	} `maxminddb:"city"`
	Continent struct {
		Names names `maxminddb:"names"`
	} `maxminddb:"continent"`
	Country struct {
		ISOCode *string `maxminddb:"iso_code"`
		Names   names   `maxminddb:"names"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  *float64 `maxminddb:"latitude"`
		Longitude *float64 `maxminddb:"longitude"`
		TimeZone  *string  `maxminddb:"time_zone"`
	} `maxminddb:"location"`
	Postal struct {
		Code *string `maxminddb:"code"`
	} `maxminddb:"postal"`
	Traits struct {
		ISP                          *string `maxminddb:"isp"`
		Organization                 *string `maxminddb:"organization"`
		AutonomousSystemNumber       *uint   `maxminddb:"autonomous_system_number"`
		AutonomousSystemOrganization *string `maxminddb:"autonomous_system_organization"`
		Domain                       *string `maxminddb:"domain"`
		IsAnonymousProxy             *bool   `maxminddb:"is_anonymous_proxy"`
		IsSatelliteProvider          *bool   `maxminddb:"is_satellite_provider"`
	} `maxminddb:"traits"`

	ISP                          *string `maxminddb:"isp"`
	Organization                 *string `maxminddb:"organization"`
	AutonomousSystemNumber       *uint   `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization *string `maxminddb:"autonomous_system_organization"`
}

// pick 按语言取名称，缺失时回退到 en；两者都没有返回 nil
func (n names) pick(locale string) *string {
	if v, ok := n[locale]; ok && v != "" {
		return &v
	}
	if v, ok := n["en"]; ok && v != "" {
		return &v
	}
	return nil
}

func firstString(vals ...*string) *string {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstUint(vals ...*uint) *uint {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func (r *mmdbRecord) toRecord(ip, locale string) *Record {
	return &Record{
		IPAddress:                    ip,
		City:                         r.City.Names.pick(locale),
		Country:                      r.Country.Names.pick(locale),
		CountryISOCode:               r.Country.ISOCode,
		Continent:                    r.Continent.Names.pick(locale),
		PostalCode:                   r.Postal.Code,
		Latitude:                     r.Location.Latitude,
		Longitude:                    r.Location.Longitude,
		TimeZone:                     r.Location.TimeZone,
		ISP:                          firstString(r.Traits.ISP, r.ISP),
		Organization:                 firstString(r.Traits.Organization, r.Organization),
		AutonomousSystemNumber:       firstUint(r.Traits.AutonomousSystemNumber, r.AutonomousSystemNumber),
		AutonomousSystemOrganization: firstString(r.Traits.AutonomousSystemOrganization, r.AutonomousSystemOrganization),
		Domain:                       r.Traits.Domain,
		IsAnonymousProxy:             r.Traits.IsAnonymousProxy,
		IsSatelliteProvider:          r.Traits.IsSatelliteProvider,
	}
}
