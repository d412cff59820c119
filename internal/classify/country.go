package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ResolveCountryISO2 maps a free-text country or region name to its ISO-3166
// alpha-2 code. Only exact matches after normalisation count; an unknown name
// returns "" rather than a guess.
func ResolveCountryISO2(name string) string {
	key := normalizeName(name)
	if key == "" {
		return ""
	}
	if code, ok := countryIndex[key]; ok {
		return code
	}
	return ""
}

// normalizeName lowercases, folds diacritics, turns every non-letter into a
// space and collapses runs of whitespace.
func normalizeName(s string) string {
	folded, _, err := transform.String(diacriticFolder(), s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// transform.Transformer is stateful, so each call gets its own chain.
func diacriticFolder() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

var countryIndex = buildCountryIndex()

func buildCountryIndex() map[string]string {
	idx := make(map[string]string, len(countryNames)*2)
	for code, names := range countryNames {
		for _, n := range names {
			idx[normalizeName(n)] = code
		}
	}
	return idx
}

var countryNames = map[string][]string{
	"AF": {"Afghanistan"},
	"AL": {"Albania"},
	"DZ": {"Algeria"},
	"AO": {"Angola"},
	"AR": {"Argentina"},
	"AM": {"Armenia"},
	"AU": {"Australia"},
	"AT": {"Austria"},
	"AZ": {"Azerbaijan"},
	"BS": {"Bahamas", "The Bahamas"},
	"BD": {"Bangladesh"},
	"BY": {"Belarus"},
	"BE": {"Belgium"},
	"BZ": {"Belize"},
	"BJ": {"Benin"},
	"BT": {"Bhutan"},
	"BO": {"Bolivia", "Bolivia (Plurinational State of)", "Plurinational State of Bolivia"},
	"BA": {"Bosnia and Herzegovina", "Bosnia"},
	"BW": {"Botswana"},
	"BR": {"Brazil", "Brasil"},
	"BN": {"Brunei", "Brunei Darussalam"},
	"BG": {"Bulgaria"},
	"BF": {"Burkina Faso"},
	"BI": {"Burundi"},
	"KH": {"Cambodia"},
	"CM": {"Cameroon"},
	"CA": {"Canada"},
	"CV": {"Cabo Verde", "Cape Verde"},
	"CF": {"Central African Republic", "CAR"},
	"TD": {"Chad"},
	"CL": {"Chile"},
	"CN": {"China", "People's Republic of China", "PRC"},
	"CO": {"Colombia"},
	"KM": {"Comoros"},
	"CG": {"Congo", "Republic of the Congo", "Congo-Brazzaville"},
	"CD": {"Democratic Republic of the Congo", "DR Congo", "DRC", "Congo, The Democratic Republic of the", "Congo-Kinshasa"},
	"CR": {"Costa Rica"},
	"CI": {"Cote d'Ivoire", "Côte d'Ivoire", "Ivory Coast"},
	"HR": {"Croatia"},
	"CU": {"Cuba"},
	"CY": {"Cyprus"},
	"CZ": {"Czechia", "Czech Republic"},
	"DK": {"Denmark"},
	"DJ": {"Djibouti"},
	"DM": {"Dominica"},
	"DO": {"Dominican Republic"},
	"EC": {"Ecuador"},
	"EG": {"Egypt"},
	"SV": {"El Salvador"},
	"ER": {"Eritrea"},
	"EE": {"Estonia"},
	"SZ": {"Eswatini", "Swaziland"},
	"ET": {"Ethiopia"},
	"FJ": {"Fiji"},
	"FI": {"Finland"},
	"FR": {"France"},
	"GA": {"Gabon"},
	"GM": {"Gambia", "The Gambia"},
	"GE": {"Georgia"},
	"DE": {"Germany"},
	"GH": {"Ghana"},
	"GR": {"Greece"},
	"GT": {"Guatemala"},
	"GN": {"Guinea"},
	"GW": {"Guinea-Bissau"},
	"GY": {"Guyana"},
	"HT": {"Haiti"},
	"HN": {"Honduras"},
	"HK": {"Hong Kong"},
	"HU": {"Hungary"},
	"IS": {"Iceland"},
	"IN": {"India"},
	"ID": {"Indonesia"},
	"IR": {"Iran", "Iran (Islamic Republic of)", "Islamic Republic of Iran"},
	"IQ": {"Iraq"},
	"IE": {"Ireland"},
	"IL": {"Israel"},
	"IT": {"Italy"},
	"JM": {"Jamaica"},
	"JP": {"Japan"},
	"JO": {"Jordan"},
	"KZ": {"Kazakhstan"},
	"KE": {"Kenya"},
	"KI": {"Kiribati"},
	"KP": {"North Korea", "Democratic People's Republic of Korea", "DPRK"},
	"KR": {"South Korea", "Republic of Korea", "Korea"},
	"KW": {"Kuwait"},
	"KG": {"Kyrgyzstan"},
	"LA": {"Laos", "Lao PDR", "Lao People's Democratic Republic"},
	"LV": {"Latvia"},
	"LB": {"Lebanon"},
	"LS": {"Lesotho"},
	"LR": {"Liberia"},
	"LY": {"Libya"},
	"LT": {"Lithuania"},
	"MG": {"Madagascar"},
	"MW": {"Malawi"},
	"MY": {"Malaysia"},
	"MV": {"Maldives"},
	"ML": {"Mali"},
	"MH": {"Marshall Islands"},
	"MR": {"Mauritania"},
	"MU": {"Mauritius"},
	"MX": {"Mexico", "México"},
	"FM": {"Micronesia", "Federated States of Micronesia", "Micronesia (Federated States of)"},
	"MD": {"Moldova", "Republic of Moldova"},
	"MN": {"Mongolia"},
	"ME": {"Montenegro"},
	"MA": {"Morocco"},
	"MZ": {"Mozambique"},
	"MM": {"Myanmar", "Burma"},
	"NA": {"Namibia"},
	"NP": {"Nepal"},
	"NL": {"Netherlands", "The Netherlands"},
	"NC": {"New Caledonia"},
	"NZ": {"New Zealand"},
	"NI": {"Nicaragua"},
	"NE": {"Niger"},
	"NG": {"Nigeria"},
	"MK": {"North Macedonia", "Macedonia"},
	"NO": {"Norway"},
	"OM": {"Oman"},
	"PK": {"Pakistan"},
	"PW": {"Palau"},
	"PS": {"Palestine", "State of Palestine", "occupied Palestinian territory", "Gaza"},
	"PA": {"Panama"},
	"PG": {"Papua New Guinea"},
	"PY": {"Paraguay"},
	"PE": {"Peru"},
	"PH": {"Philippines", "The Philippines"},
	"PL": {"Poland"},
	"PT": {"Portugal"},
	"PR": {"Puerto Rico"},
	"QA": {"Qatar"},
	"RO": {"Romania"},
	"RU": {"Russia", "Russian Federation"},
	"RW": {"Rwanda"},
	"WS": {"Samoa"},
	"SA": {"Saudi Arabia"},
	"SN": {"Senegal"},
	"RS": {"Serbia"},
	"SL": {"Sierra Leone"},
	"SG": {"Singapore"},
	"SK": {"Slovakia"},
	"SI": {"Slovenia"},
	"SB": {"Solomon Islands"},
	"SO": {"Somalia"},
	"ZA": {"South Africa"},
	"SS": {"South Sudan"},
	"ES": {"Spain"},
	"LK": {"Sri Lanka"},
	"SD": {"Sudan"},
	"SR": {"Suriname"},
	"SE": {"Sweden"},
	"CH": {"Switzerland"},
	"SY": {"Syria", "Syrian Arab Republic"},
	"TW": {"Taiwan", "Taiwan Province of China"},
	"TJ": {"Tajikistan"},
	"TZ": {"Tanzania", "United Republic of Tanzania"},
	"TH": {"Thailand"},
	"TL": {"Timor-Leste", "East Timor"},
	"TG": {"Togo"},
	"TO": {"Tonga"},
	"TT": {"Trinidad and Tobago"},
	"TN": {"Tunisia"},
	"TR": {"Turkey", "Türkiye", "Turkiye"},
	"TM": {"Turkmenistan"},
	"TV": {"Tuvalu"},
	"UG": {"Uganda"},
	"UA": {"Ukraine"},
	"AE": {"United Arab Emirates", "UAE"},
	"GB": {"United Kingdom", "UK", "Great Britain", "United Kingdom of Great Britain and Northern Ireland"},
	"US": {"United States", "United States of America", "USA", "US", "U.S."},
	"UY": {"Uruguay"},
	"UZ": {"Uzbekistan"},
	"VU": {"Vanuatu"},
	"VE": {"Venezuela", "Venezuela (Bolivarian Republic of)", "Bolivarian Republic of Venezuela"},
	"VN": {"Viet Nam", "Vietnam"},
	"YE": {"Yemen"},
	"ZM": {"Zambia"},
	"ZW": {"Zimbabwe"},
}
