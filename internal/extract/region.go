package extract

import (
	"strings"
	"unicode"
)

// GlobeTag marks a node whose region could not be determined.
const GlobeTag = "🌐"

type region struct {
	iso   string
	names []string // case-insensitive substrings
	codes []string // whole-token, case-insensitive
	upper []string // whole-token, upper case only (common English words otherwise)
}

// regions is matched in order; earlier entries win.
var regions = []region{
	{iso: "HK", names: []string{"hong kong", "hongkong", "香港"}, codes: []string{"hk", "hkg"}},
	{iso: "TW", names: []string{"taiwan", "台湾", "台灣", "臺灣", "台北", "新北"}, codes: []string{"tw", "twn"}},
	{iso: "MO", names: []string{"macao", "macau", "澳门", "澳門"}, codes: []string{"mo"}},
	{iso: "JP", names: []string{"japan", "tokyo", "osaka", "日本", "东京", "東京", "大阪"}, codes: []string{"jp", "jpn"}},
	{iso: "SG", names: []string{"singapore", "新加坡", "狮城", "獅城"}, codes: []string{"sg", "sgp"}},
	{iso: "KR", names: []string{"korea", "seoul", "韩国", "韓國", "首尔", "首爾"}, codes: []string{"kr", "kor"}},
	{iso: "US", names: []string{"united states", "america", "los angeles", "san jose", "silicon valley", "seattle", "new york", "美国", "美國"}, codes: []string{"us", "usa"}},
	{iso: "GB", names: []string{"united kingdom", "britain", "england", "london", "英国", "英國"}, codes: []string{"uk", "gb", "gbr"}},
	{iso: "DE", names: []string{"germany", "frankfurt", "德国", "德國"}, codes: []string{"deu"}, upper: []string{"DE"}},
	{iso: "FR", names: []string{"france", "paris", "法国", "法國"}, codes: []string{"fr", "fra"}},
	{iso: "NL", names: []string{"netherlands", "amsterdam", "荷兰", "荷蘭"}, codes: []string{"nl", "nld"}},
	{iso: "RU", names: []string{"russia", "moscow", "俄罗斯", "俄羅斯"}, codes: []string{"ru", "rus"}},
	{iso: "CA", names: []string{"canada", "toronto", "加拿大"}, codes: []string{"ca", "can"}},
	{iso: "AU", names: []string{"australia", "sydney", "澳大利亚", "澳洲"}, codes: []string{"au", "aus"}},
	{iso: "ID", names: []string{"indonesia", "jakarta", "印尼", "印度尼西亚"}, codes: []string{"idn"}, upper: []string{"ID"}},
	{iso: "IN", names: []string{"india", "mumbai", "印度"}, codes: []string{"ind"}, upper: []string{"IN"}},
	{iso: "TR", names: []string{"turkey", "türkiye", "istanbul", "土耳其"}, codes: []string{"tr", "tur"}},
	{iso: "BR", names: []string{"brazil", "são paulo", "sao paulo", "巴西"}, codes: []string{"br", "bra"}},
	{iso: "VN", names: []string{"vietnam", "越南"}, codes: []string{"vn", "vnm"}},
	{iso: "TH", names: []string{"thailand", "bangkok", "泰国", "泰國"}, codes: []string{"tha"}, upper: []string{"TH"}},
	{iso: "MY", names: []string{"malaysia", "马来西亚", "馬來西亞"}, codes: []string{"mys"}, upper: []string{"MY"}},
	{iso: "PH", names: []string{"philippines", "菲律宾", "菲律賓"}, codes: []string{"ph", "phl"}},
	{iso: "AR", names: []string{"argentina", "阿根廷"}, codes: []string{"ar", "arg"}},
	{iso: "IT", names: []string{"italy", "milan", "意大利"}, codes: []string{"ita"}, upper: []string{"IT"}},
	{iso: "ES", names: []string{"spain", "madrid", "西班牙"}, codes: []string{"es", "esp"}},
	{iso: "CH", names: []string{"switzerland", "zurich", "瑞士"}, codes: []string{"ch", "che"}},
	{iso: "SE", names: []string{"sweden", "stockholm", "瑞典"}, codes: []string{"se", "swe"}},
	{iso: "PL", names: []string{"poland", "warsaw", "波兰", "波蘭"}, codes: []string{"pl", "pol"}},
	{iso: "UA", names: []string{"ukraine", "kyiv", "乌克兰", "烏克蘭"}, codes: []string{"ua", "ukr"}},
	{iso: "AE", names: []string{"emirates", "dubai", "阿联酋", "迪拜"}, codes: []string{"ae", "uae"}},
	{iso: "IL", names: []string{"israel", "以色列"}, codes: []string{"il", "isr"}},
	{iso: "ZA", names: []string{"south africa", "南非"}, codes: []string{"za", "zaf"}},
	{iso: "MX", names: []string{"mexico", "墨西哥"}, codes: []string{"mx", "mex"}},
	{iso: "CN", names: []string{"china", "中国", "中國", "回国", "回國"}, codes: []string{"cn", "chn"}},
}

// matchRegion runs names across all regions first, then codes, so a full
// country name anywhere beats a stray two-letter token.
func matchRegion(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, r := range regions {
		for _, n := range r.names {
			if strings.Contains(lower, n) {
				return r.iso, true
			}
		}
	}

	tokens := asciiTokens(name)
	if len(tokens) == 0 {
		return "", false
	}
	for _, r := range regions {
		for _, tok := range tokens {
			for _, c := range r.codes {
				if strings.EqualFold(tok, c) {
					return r.iso, true
				}
			}
			for _, c := range r.upper {
				if tok == c {
					return r.iso, true
				}
			}
		}
	}
	return "", false
}

// asciiTokens splits on everything that is not an ASCII letter, so "US01",
// "香港HK" and "[JP]" yield "US", "HK" and "JP" while "music" stays whole.
func asciiTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r > unicode.MaxASCII || !unicode.IsLetter(r)
	})
}

// HasFlag reports whether s contains a regional-indicator pair.
func HasFlag(s string) bool {
	prev := false
	for _, r := range s {
		ri := r >= 0x1F1E6 && r <= 0x1F1FF
		if ri && prev {
			return true
		}
		prev = ri
	}
	return false
}

// Flag converts an ISO 3166 alpha-2 code to its emoji.
func Flag(code string) string {
	if len(code) != 2 {
		return GlobeTag
	}
	code = strings.ToUpper(code)
	if code[0] < 'A' || code[0] > 'Z' || code[1] < 'A' || code[1] > 'Z' {
		return GlobeTag
	}
	return string([]rune{rune(code[0]-'A') + 0x1F1E6, rune(code[1]-'A') + 0x1F1E6})
}
