package clause

import (
	"regexp"
	"strings"
)

// wordRE compiles a case-insensitive alternation that only matches whole
// words. Go's \b is ASCII-only and breaks on æ, ø and å, so the boundaries
// are spelled out with Unicode classes.
func wordRE(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(w), `\ `, `\s+`)
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(quoted, "|") + `)(?:[^\p{L}\p{N}_]|$)`)
}

var (
	// ObligationRE matches modal verbs and phrases that make a sentence binding.
	ObligationRE = wordRE(
		"skal", "må", "bør", "kreves", "påkrevd", "forutsettes", "forplikter", "plikter",
		"skal ikke", "må ikke", "ikke tillatt", "forbudt",
		"shall", "must", "should", "required", "is to be", "are to be",
	)

	// ProhibitionRE matches negated obligations.
	ProhibitionRE = wordRE(
		"skal ikke", "må ikke", "ikke tillatt", "tillates ikke", "forbudt", "ikke benyttes",
		"shall not", "must not", "not permitted", "prohibited",
	)

	// UnitsRE matches a number followed by a technical unit or a fire/sound class.
	UnitsRE = regexp.MustCompile(`(?i)(?:\d+(?:[.,]\d+)?\s*(?:m³/s|m3/s|m³/h|m3/h|l/s|l/min|m/s|kwh|kw|mw|w/m²|w/m2|kva|kv|ma|mm²|mm2|mm|cm|m²|m2|m³|m3|km|m|kpa|pa|bar|db\(a\)|dba|db|°c|lux|lx|%|kg|min|timer|v|w|hz)(?:[^\p{L}\p{N}]|$))|(?:(?:^|[^\p{L}])(?:EI|REI|EW)\s?\d{2,3}(?:[^\p{N}]|$))`)
)

// DefaultLeadTerms are measurement and subject keywords that usually open a
// new technical assertion.
var DefaultLeadTerms = []string{
	"Luftmengde", "Temperatur", "Romtemperatur", "Lydnivå", "Støynivå", "Trykkfall",
	"Effekt", "Kapasitet", "Belysningsstyrke", "Belysning", "Spenning", "Brannmotstand",
	"Brannklasse", "Lydklasse", "U-verdi", "Virkningsgrad", "SFP", "Levetid", "Garanti",
	"Dokumentasjon", "Dimensjonering", "Tetthet", "Fuktighet", "Varmegjenvinning",
	"Airflow", "Temperature", "Noise level", "Capacity", "Voltage", "Efficiency",
}

// connectorWords leave a fragment incomplete when they end it.
var connectorWords = map[string]bool{
	"og": true, "eller": true, "samt": true, "med": true, "for": true, "til": true,
	"av": true, "i": true, "på": true, "som": true, "der": true, "ved": true, "fra": true,
	"mellom": true, "under": true, "over": true, "etter": true,
	"and": true, "or": true, "with": true, "to": true, "of": true, "the": true,
}

// abbreviations end in a period without ending the sentence.
var abbreviations = map[string]bool{
	"ca": true, "f.eks": true, "eks": true, "iht": true, "jf": true, "jfr": true, "nr": true,
	"min": true, "maks": true, "pkt": true, "bl.a": true, "dvs": true, "evt": true,
	"inkl": true, "ekskl": true, "kap": true, "tab": true, "fig": true, "vedl": true,
	"e.g": true, "i.e": true, "approx": true, "no": true, "ref": true, "etc": true,
	"mm": true, "osv": true, "mht": true, "stk": true,
}
