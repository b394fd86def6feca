// Package transform maps raw source items onto the canonical product schema.
//
// Transform is total: a missing or malformed source field becomes an empty
// string or zero, never an error, so one bad item cannot abort a batch.
package transform

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"

	"github.com/cyderes/catalog-sync/internal/config"
	"github.com/cyderes/catalog-sync/internal/models"
)

// Transformer holds the settings that shape derived fields.
type Transformer struct {
	CDNPrefix     string
	ImageVariants int
}

// New creates a transformer from the ingestion settings.
func New(cfg config.IngestionConfig) *Transformer {
	return &Transformer{
		CDNPrefix:     cfg.CDNPrefix,
		ImageVariants: cfg.ImageVariants,
	}
}

// TransformAll maps every raw item, preserving order.
func (t *Transformer) TransformAll(raws []models.RawRecord) []models.Product {
	out := make([]models.Product, 0, len(raws))
	for _, raw := range raws {
		out = append(out, t.Transform(raw))
	}
	return out
}

// Transform maps one raw item of shape {"general": ..., "filterable": ...}.
func (t *Transformer) Transform(raw models.RawRecord) models.Product {
	general := gjson.GetBytes(raw, "general")
	filterable := gjson.GetBytes(raw, "filterable")
	attrs := general.Get("attributes")

	avatar := t.AvatarURL(str(filterable.Get("thumbnail")))
	images := ImageVariants(avatar, t.ImageVariants)

	price := ParsePrice(filterable.Get("special_price"))
	original := ParsePrice(filterable.Get("price"))
	if price == 0 {
		price = original
	}

	return models.Product{
		SourceID:      str(general.Get("product_id")),
		Name:          NormalizeName(str(general.Get("name"))),
		SKU:           str(general.Get("sku")),
		Price:         price,
		OriginalPrice: original,
		Description:   Description(str(attrs.Get("key_selling_points"))),
		URLPath:       str(general.Get("url_path")),
		Avatar:        avatar,
		Images:        images,
		ScreenSize:    str(attrs.Get("display_size")),
		ScreenTech:    str(attrs.Get("mobile_type_of_display")),
		RearCamera:    str(attrs.Get("camera_primary")),
		FrontCamera:   str(attrs.Get("camera_secondary")),
		Chipset:       str(attrs.Get("chipset")),
		NFC:           str(attrs.Get("mobile_nfc")),
		RAM:           str(attrs.Get("mobile_ram_filter")),
		Storage:       str(attrs.Get("storage")),
		Battery:       firstNonEmpty(str(attrs.Get("iphone_pin_text")), str(attrs.Get("mobile_cong_nghe_sac"))),
		SIM:           str(attrs.Get("sim")),
		OS:            str(attrs.Get("operating_system")),
		RefreshRate:   str(attrs.Get("mobile_tan_so_quet")),
		MainScreenRes: str(attrs.Get("display_resolution")),
		SubScreenSize: str(attrs.Get("sub_display_size")),
		SubScreenRes:  str(attrs.Get("sub_display_resolution")),
		ColorDepth:    str(attrs.Get("color_depth")),
		CPUType:       str(attrs.Get("cpu")),
		Categories:    categories(general.Get("categories")),
	}
}

// NormalizeName trims and NFC-normalizes a product name. The result is the
// natural key used to match products across fetches.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// AvatarURL builds the absolute image URL for a relative thumbnail path.
func (t *Transformer) AvatarURL(thumbnail string) string {
	if thumbnail == "" {
		return ""
	}
	if strings.HasPrefix(thumbnail, "http://") || strings.HasPrefix(thumbnail, "https://") {
		return thumbnail
	}
	if !strings.HasPrefix(thumbnail, "/") {
		thumbnail = "/" + thumbnail
	}
	return strings.TrimRight(t.CDNPrefix, "/") + thumbnail
}

// ImageVariants returns count gallery URLs derived from base by inserting
// "-1", "-2", ... before the file extension.
func ImageVariants(base string, count int) []string {
	variants := []string{}
	if base == "" || count <= 0 {
		return variants
	}

	name, ext := base, ""
	if i := strings.LastIndex(base, "."); i > strings.LastIndex(base, "/") {
		name, ext = base[:i], base[i:]
	}
	for i := 1; i <= count; i++ {
		variants = append(variants, name+"-"+strconv.Itoa(i)+ext)
	}
	return variants
}

// Description reduces rich-text selling points to a pipe-delimited summary
// of their list items. Markup without list items collapses to its text.
func Description(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var parts []string
	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		if text := collapse(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return collapse(doc.Text())
	}
	return strings.Join(parts, " | ")
}

// ParsePrice reads a price given as a JSON number or a numeric string.
// Anything unparseable is zero.
func ParsePrice(v gjson.Result) float64 {
	var d decimal.Decimal
	switch v.Type {
	case gjson.Number:
		d = decimal.NewFromFloat(v.Float())
	case gjson.String:
		parsed, err := decimal.NewFromString(cleanPrice(v.String()))
		if err != nil {
			return 0
		}
		d = parsed
	default:
		return 0
	}
	if d.IsNegative() {
		return 0
	}
	return d.Round(2).InexactFloat64()
}

var (
	dotGrouped   = regexp.MustCompile(`^\d{1,3}(\.\d{3})+(,\d+)?$`)
	commaGrouped = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
)

// cleanPrice strips currency marks and thousands separators from a price
// string. Anything else is left in place so the caller rejects it.
func cleanPrice(s string) string {
	s = strings.TrimSpace(s)
	for _, mark := range []string{"VNĐ", "VND", "vnđ", "vnd", "đ", "Đ"} {
		s = strings.TrimSuffix(s, mark)
	}
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.Is(unicode.Sc, r)
	})
	switch {
	case dotGrouped.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case commaGrouped.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	}
	return s
}

func categories(v gjson.Result) []models.CategoryRef {
	refs := []models.CategoryRef{}
	if !v.IsArray() {
		return refs
	}
	for _, c := range v.Array() {
		if !c.IsObject() {
			continue
		}
		refs = append(refs, models.CategoryRef{
			CategoryID: int(c.Get("categoryId").Int()),
			Name:       str(c.Get("name")),
			URI:        str(c.Get("uri")),
		})
	}
	return refs
}

// str renders an attribute value as text: arrays are joined with ", ",
// objects and null are empty.
func str(v gjson.Result) string {
	switch {
	case !v.Exists(), v.Type == gjson.Null:
		return ""
	case v.IsArray():
		var parts []string
		for _, item := range v.Array() {
			if s := str(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case v.IsObject():
		return ""
	default:
		return strings.TrimSpace(v.String())
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
