package location

import (
	"regexp"
	"sort"
	"strings"

	"github.com/osintops/threatpipe/internal/core/domain"
	"github.com/osintops/threatpipe/internal/process/filter"
)

// centroid is a static country center, the last-resort coordinate source.
type centroid struct {
	Lat float64
	Lon float64
}

// countryInfo carries the canonical name, region and centroid for one
// country in the curated gazetteer.
type countryInfo struct {
	Name     string
	Region   string
	Centroid centroid
}

// cityInfo maps a known city to its canonical country.
type cityInfo struct {
	City    string
	Country string
}

// countries is the curated country table, keyed by folded name. Loaded
// once, read-only after init.
var countries = map[string]countryInfo{
	"afghanistan":    {"Afghanistan", "South Asia", centroid{33.9391, 67.7100}},
	"algeria":        {"Algeria", "North Africa", centroid{28.0339, 1.6596}},
	"argentina":      {"Argentina", "South America", centroid{-38.4161, -63.6167}},
	"australia":      {"Australia", "Oceania", centroid{-25.2744, 133.7751}},
	"bangladesh":     {"Bangladesh", "South Asia", centroid{23.6850, 90.3563}},
	"belgium":        {"Belgium", "Western Europe", centroid{50.5039, 4.4699}},
	"brazil":         {"Brazil", "South America", centroid{-14.2350, -51.9253}},
	"burkina faso":   {"Burkina Faso", "West Africa", centroid{12.2383, -1.5616}},
	"cameroon":       {"Cameroon", "Central Africa", centroid{7.3697, 12.3547}},
	"canada":         {"Canada", "North America", centroid{56.1304, -106.3468}},
	"chad":           {"Chad", "Central Africa", centroid{15.4542, 18.7322}},
	"chile":          {"Chile", "South America", centroid{-35.6751, -71.5430}},
	"china":          {"China", "East Asia", centroid{35.8617, 104.1954}},
	"colombia":       {"Colombia", "South America", centroid{4.5709, -74.2973}},
	"congo":          {"Democratic Republic of the Congo", "Central Africa", centroid{-4.0383, 21.7587}},
	"egypt":          {"Egypt", "North Africa", centroid{26.8206, 30.8025}},
	"ethiopia":       {"Ethiopia", "East Africa", centroid{9.1450, 40.4897}},
	"france":         {"France", "Western Europe", centroid{46.2276, 2.2137}},
	"germany":        {"Germany", "Western Europe", centroid{51.1657, 10.4515}},
	"ghana":          {"Ghana", "West Africa", centroid{7.9465, -1.0232}},
	"greece":         {"Greece", "Southern Europe", centroid{39.0742, 21.8243}},
	"haiti":          {"Haiti", "Caribbean", centroid{18.9712, -72.2852}},
	"india":          {"India", "South Asia", centroid{20.5937, 78.9629}},
	"indonesia":      {"Indonesia", "Southeast Asia", centroid{-0.7893, 113.9213}},
	"iran":           {"Iran", "Middle East", centroid{32.4279, 53.6880}},
	"iraq":           {"Iraq", "Middle East", centroid{33.2232, 43.6793}},
	"israel":         {"Israel", "Middle East", centroid{31.0461, 34.8516}},
	"italy":          {"Italy", "Southern Europe", centroid{41.8719, 12.5674}},
	"japan":          {"Japan", "East Asia", centroid{36.2048, 138.2529}},
	"kenya":          {"Kenya", "East Africa", centroid{-0.0236, 37.9062}},
	"lebanon":        {"Lebanon", "Middle East", centroid{33.8547, 35.8623}},
	"libya":          {"Libya", "North Africa", centroid{26.3351, 17.2283}},
	"mali":           {"Mali", "West Africa", centroid{17.5707, -3.9962}},
	"mexico":         {"Mexico", "North America", centroid{23.6345, -102.5528}},
	"mozambique":     {"Mozambique", "Southern Africa", centroid{-18.6657, 35.5296}},
	"myanmar":        {"Myanmar", "Southeast Asia", centroid{21.9162, 95.9560}},
	"niger":          {"Niger", "West Africa", centroid{17.6078, 8.0817}},
	"nigeria":        {"Nigeria", "West Africa", centroid{9.0820, 8.6753}},
	"pakistan":       {"Pakistan", "South Asia", centroid{30.3753, 69.3451}},
	"philippines":    {"Philippines", "Southeast Asia", centroid{12.8797, 121.7740}},
	"poland":         {"Poland", "Eastern Europe", centroid{51.9194, 19.1451}},
	"russia":         {"Russia", "Eastern Europe", centroid{61.5240, 105.3188}},
	"saudi arabia":   {"Saudi Arabia", "Middle East", centroid{23.8859, 45.0792}},
	"serbia":         {"Serbia", "Balkans", centroid{44.0165, 21.0059}},
	"somalia":        {"Somalia", "East Africa", centroid{5.1521, 46.1996}},
	"south africa":   {"South Africa", "Southern Africa", centroid{-30.5595, 22.9375}},
	"south korea":    {"South Korea", "East Asia", centroid{35.9078, 127.7669}},
	"south sudan":    {"South Sudan", "East Africa", centroid{6.8770, 31.3070}},
	"spain":          {"Spain", "Southern Europe", centroid{40.4637, -3.7492}},
	"sudan":          {"Sudan", "North Africa", centroid{12.8628, 30.2176}},
	"syria":          {"Syria", "Middle East", centroid{34.8021, 38.9968}},
	"thailand":       {"Thailand", "Southeast Asia", centroid{15.8700, 100.9925}},
	"turkey":         {"Turkey", "Middle East", centroid{38.9637, 35.2433}},
	"ukraine":        {"Ukraine", "Eastern Europe", centroid{48.3794, 31.1656}},
	"united kingdom": {"United Kingdom", "Western Europe", centroid{55.3781, -3.4360}},
	"united states":  {"United States", "North America", centroid{37.0902, -95.7129}},
	"venezuela":      {"Venezuela", "South America", centroid{6.4238, -66.5897}},
	"yemen":          {"Yemen", "Middle East", centroid{15.5527, 48.5164}},
}

// countryAliases maps common shorthand to canonical gazetteer keys.
var countryAliases = map[string]string{
	"usa":           "united states",
	"u.s.":          "united states",
	"us":            "united states",
	"america":       "united states",
	"uk":            "united kingdom",
	"britain":       "united kingdom",
	"england":       "united kingdom",
	"drc":           "congo",
	"dr congo":      "congo",
	"burma":         "myanmar",
	"persia":        "iran",
	"uae":           "saudi arabia", // nearest curated entry for Gulf shorthand
	"south korean":  "south korea",
	"russian":       "russia",
	"ukrainian":     "ukraine",
	"nigerian":      "nigeria",
	"israeli":       "israel",
	"syrian":        "syria",
	"turkish":       "turkey",
	"french":        "france",
	"german":        "germany",
	"mexican":       "mexico",
	"pakistani":     "pakistan",
	"indian":        "india",
	"american":      "united states",
	"british":       "united kingdom",
}

// cities is the curated city table, keyed by folded city name.
var cities = map[string]cityInfo{
	"abuja":          {"Abuja", "Nigeria"},
	"lagos":          {"Lagos", "Nigeria"},
	"maiduguri":      {"Maiduguri", "Nigeria"},
	"kano":           {"Kano", "Nigeria"},
	"nairobi":        {"Nairobi", "Kenya"},
	"mogadishu":      {"Mogadishu", "Somalia"},
	"addis ababa":    {"Addis Ababa", "Ethiopia"},
	"khartoum":       {"Khartoum", "Sudan"},
	"cairo":          {"Cairo", "Egypt"},
	"tripoli":        {"Tripoli", "Libya"},
	"bamako":         {"Bamako", "Mali"},
	"ouagadougou":    {"Ouagadougou", "Burkina Faso"},
	"niamey":         {"Niamey", "Niger"},
	"kabul":          {"Kabul", "Afghanistan"},
	"kandahar":       {"Kandahar", "Afghanistan"},
	"islamabad":      {"Islamabad", "Pakistan"},
	"karachi":        {"Karachi", "Pakistan"},
	"peshawar":       {"Peshawar", "Pakistan"},
	"new delhi":      {"New Delhi", "India"},
	"mumbai":         {"Mumbai", "India"},
	"dhaka":          {"Dhaka", "Bangladesh"},
	"baghdad":        {"Baghdad", "Iraq"},
	"mosul":          {"Mosul", "Iraq"},
	"damascus":       {"Damascus", "Syria"},
	"aleppo":         {"Aleppo", "Syria"},
	"beirut":         {"Beirut", "Lebanon"},
	"tehran":         {"Tehran", "Iran"},
	"sanaa":          {"Sanaa", "Yemen"},
	"aden":           {"Aden", "Yemen"},
	"riyadh":         {"Riyadh", "Saudi Arabia"},
	"jerusalem":      {"Jerusalem", "Israel"},
	"tel aviv":       {"Tel Aviv", "Israel"},
	"gaza":           {"Gaza", "Israel"},
	"istanbul":       {"Istanbul", "Turkey"},
	"ankara":         {"Ankara", "Turkey"},
	"kyiv":           {"Kyiv", "Ukraine"},
	"kharkiv":        {"Kharkiv", "Ukraine"},
	"odesa":          {"Odesa", "Ukraine"},
	"moscow":         {"Moscow", "Russia"},
	"belgrade":       {"Belgrade", "Serbia"},
	"paris":          {"Paris", "France"},
	"london":         {"London", "United Kingdom"},
	"manchester":     {"Manchester", "United Kingdom"},
	"berlin":         {"Berlin", "Germany"},
	"brussels":       {"Brussels", "Belgium"},
	"madrid":         {"Madrid", "Spain"},
	"barcelona":      {"Barcelona", "Spain"},
	"rome":           {"Rome", "Italy"},
	"athens":         {"Athens", "Greece"},
	"warsaw":         {"Warsaw", "Poland"},
	"new york":       {"New York", "United States"},
	"washington":     {"Washington", "United States"},
	"los angeles":    {"Los Angeles", "United States"},
	"chicago":        {"Chicago", "United States"},
	"mexico city":    {"Mexico City", "Mexico"},
	"bogota":         {"Bogota", "Colombia"},
	"caracas":        {"Caracas", "Venezuela"},
	"buenos aires":   {"Buenos Aires", "Argentina"},
	"santiago":       {"Santiago", "Chile"},
	"sao paulo":      {"Sao Paulo", "Brazil"},
	"rio de janeiro": {"Rio de Janeiro", "Brazil"},
	"port-au-prince": {"Port-au-Prince", "Haiti"},
	"beijing":        {"Beijing", "China"},
	"shanghai":       {"Shanghai", "China"},
	"tokyo":          {"Tokyo", "Japan"},
	"seoul":          {"Seoul", "South Korea"},
	"manila":         {"Manila", "Philippines"},
	"jakarta":        {"Jakarta", "Indonesia"},
	"bangkok":        {"Bangkok", "Thailand"},
	"yangon":         {"Yangon", "Myanmar"},
	"juba":           {"Juba", "South Sudan"},
	"johannesburg":   {"Johannesburg", "South Africa"},
	"cape town":      {"Cape Town", "South Africa"},
	"maputo":         {"Maputo", "Mozambique"},
	"sydney":         {"Sydney", "Australia"},
	"ottawa":         {"Ottawa", "Canada"},
	"toronto":        {"Toronto", "Canada"},
}

// Gazetteer is the compiled lookup table. Built once at startup,
// immutable and safe for concurrent use.
type Gazetteer struct {
	cityRes    []gazRule
	countryRes []gazRule
}

type gazRule struct {
	key string
	re  *regexp.Regexp
}

// NewGazetteer compiles word-boundary patterns for every known city,
// country and alias.
func NewGazetteer() *Gazetteer {
	g := &Gazetteer{}

	for key := range cities {
		g.cityRes = append(g.cityRes, gazRule{key: key, re: wordPattern(key)})
	}

	for key := range countries {
		g.countryRes = append(g.countryRes, gazRule{key: key, re: wordPattern(key)})
	}

	for alias, key := range countryAliases {
		g.countryRes = append(g.countryRes, gazRule{key: key, re: wordPattern(alias)})
	}

	// Longest pattern first so "south sudan" wins over "sudan", and a fixed
	// order overall so extraction is deterministic.
	sortRules(g.cityRes)
	sortRules(g.countryRes)

	return g
}

func sortRules(rules []gazRule) {
	sort.Slice(rules, func(i, j int) bool {
		a, b := rules[i].re.String(), rules[j].re.String()
		if len(a) != len(b) {
			return len(a) > len(b)
		}

		return a < b
	})
}

func wordPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(term) + `\b`)
}

// Extract scans the normalized text blob for a city and/or a country.
// A city hit implies its canonical country; an explicit country mention
// wins over the implied one when they disagree.
func (g *Gazetteer) Extract(textBlob string) *domain.Location {
	var foundCity *cityInfo

	for _, rule := range g.cityRes {
		if rule.re.MatchString(textBlob) {
			info := cities[rule.key]
			foundCity = &info

			break
		}
	}

	var foundCountry *countryInfo

	for _, rule := range g.countryRes {
		if rule.re.MatchString(textBlob) {
			info := countries[rule.key]
			foundCountry = &info

			break
		}
	}

	switch {
	case foundCity != nil:
		country := foundCity.Country
		if foundCountry != nil {
			country = foundCountry.Name
		}

		loc := &domain.Location{
			City:       foundCity.City,
			Country:    country,
			Method:     domain.MethodLegacyPrecise,
			Confidence: domain.ConfidenceHigh,
		}
		if info, ok := lookupCountry(country); ok {
			loc.Region = info.Region
		}

		return loc
	case foundCountry != nil:
		return &domain.Location{
			Country:    foundCountry.Name,
			Region:     foundCountry.Region,
			Method:     domain.MethodLegacyPrecise,
			Confidence: domain.ConfidenceMedium,
		}
	default:
		return nil
	}
}

// lookupCountry resolves a country name or alias to its gazetteer record.
func lookupCountry(name string) (countryInfo, bool) {
	key := filter.Normalize(name)

	if canonical, ok := countryAliases[key]; ok {
		key = canonical
	}

	info, ok := countries[key]

	return info, ok
}

// Centroid returns the static country centroid, when known.
func Centroid(country string) (float64, float64, bool) {
	info, ok := lookupCountry(country)
	if !ok {
		return 0, 0, false
	}

	return info.Centroid.Lat, info.Centroid.Lon, true
}

// CanonicalCountry normalizes free-form country strings (including LLM
// replies) to the curated spelling; unknown names pass through trimmed.
func CanonicalCountry(name string) string {
	if info, ok := lookupCountry(name); ok {
		return info.Name
	}

	return strings.TrimSpace(name)
}
