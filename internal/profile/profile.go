// Package profile holds per-discipline vocabularies used to score clauses.
//
// A Profile is read-only once the Store is built. Overrides are merged from a
// TOML file at startup; there is no runtime mutation.
package profile

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/kravscan/internal/clause"
)

// Generic is the fallback profile key.
const Generic = "generic"

// ErrInvalidProfile indicates an override file that cannot be applied.
var ErrInvalidProfile = errors.New("invalid profile")

// Profile is the vocabulary of one discipline.
type Profile struct {
	Key string
	// Aliases name the discipline in free text ("luftbehandling", "hvac").
	Aliases []string
	// Core are domain terms, matched as word prefixes so compounds count.
	Core []string
	// Units matches measurements typical for the discipline.
	Units     *regexp.Regexp
	LeadTerms []string
}

// Terms returns core terms followed by aliases, lowercased and without repeats.
func (p *Profile) Terms() []string {
	seen := make(map[string]bool, len(p.Core)+len(p.Aliases))
	out := make([]string, 0, len(p.Core)+len(p.Aliases))
	for _, list := range [][]string{p.Core, p.Aliases} {
		for _, t := range list {
			t = strings.ToLower(t)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// unitsRE compiles a measurement pattern for the given unit spellings.
func unitsRE(units ...string) *regexp.Regexp {
	quoted := make([]string, len(units))
	for i, u := range units {
		quoted[i] = regexp.QuoteMeta(u)
	}
	// Longer spellings first so "m³/h" wins over "m".
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })
	return regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s*(?:` + strings.Join(quoted, "|") + `)(?:[^\p{L}\p{N}]|$)`)
}

func builtins() []*Profile {
	return []*Profile{
		{
			Key:   Generic,
			Core:  []string{"anlegg", "installasjon", "leveranse", "utstyr", "system", "montering", "entreprenør", "contractor", "equipment"},
			Units: clause.UnitsRE,
		},
		{
			Key:       "ventilasjon",
			Aliases:   []string{"ventilasjon", "luftbehandling", "ventilation", "hvac", "inneklima"},
			Core:      []string{"ventilasjon", "luftmengde", "luftbehandling", "aggregat", "vifte", "kanal", "spjeld", "filter", "varmegjenvinn", "tilluft", "avtrekk", "sfp", "ventilator", "airflow", "duct"},
			Units:     unitsRE("m³/s", "m3/s", "m³/h", "m3/h", "l/s", "pa", "kpa", "kw/(m³/s)", "kw/(m3/s)", "m/s", "%"),
			LeadTerms: []string{"Luftmengde", "Trykkfall", "SFP", "Varmegjenvinning", "Tilluft", "Avtrekk"},
		},
		{
			Key:       "elektro",
			Aliases:   []string{"elektro", "elektrisk", "elkraft", "el-anlegg", "electrical"},
			Core:      []string{"elektro", "kabel", "kabl", "tavle", "sikring", "jordfeil", "jording", "belysning", "armatur", "stikkontakt", "spenning", "nødlys", "kurs", "lader", "cable", "lighting"},
			Units:     unitsRE("v", "kv", "a", "ma", "ka", "w", "kw", "kva", "lux", "lx", "hz", "mm²", "mm2"),
			LeadTerms: []string{"Spenning", "Belysningsstyrke", "Effekt"},
		},
		{
			Key:       "vvs",
			Aliases:   []string{"vvs", "sanitær", "rørlegger", "plumbing", "varme og sanitær"},
			Core:      []string{"rør", "vann", "avløp", "sanitær", "varmtvann", "kaldtvann", "pumpe", "sluk", "radiator", "gulvvarme", "ventil", "vannmåler", "pipe", "drain"},
			Units:     unitsRE("l/s", "l/min", "l/h", "bar", "kpa", "°c", "mm", "m³/h", "m3/h"),
			LeadTerms: []string{"Temperatur", "Kapasitet"},
		},
		{
			Key:       "brann",
			Aliases:   []string{"brann", "brannsikkerhet", "brannvern", "fire", "fire safety"},
			Core:      []string{"brann", "røyk", "sprinkl", "rømning", "brannalarm", "branncelle", "brannskille", "slukke", "evakuering", "fire", "smoke"},
			Units:     regexp.MustCompile(`(?:(?:^|[^\p{L}])(?:EI|REI|EW|R|E)\s?\d{2,3}(?:[^\p{N}]|$))|(?i:\d+\s*(?:minutter|min)(?:[^\p{L}]|$))`),
			LeadTerms: []string{"Brannmotstand", "Brannklasse"},
		},
		{
			Key:       "akustikk",
			Aliases:   []string{"akustikk", "lyd", "støy", "acoustics", "noise"},
			Core:      []string{"lyd", "støy", "akustikk", "etterklang", "trinnlyd", "luftlyd", "lydisol", "demping", "sound", "noise"},
			Units:     unitsRE("db", "dba", "db(a)", "hz", "s"),
			LeadTerms: []string{"Lydnivå", "Støynivå", "Lydklasse"},
		},
		{
			Key:       "bygg",
			Aliases:   []string{"bygg", "bygningsteknisk", "arkitekt", "construction", "building"},
			Core:      []string{"vegg", "dekke", "tak", "dør", "vindu", "fasade", "gulv", "himling", "betong", "stål", "isolasjon", "membran", "wall", "floor"},
			Units:     unitsRE("mm", "cm", "m", "m²", "m2", "kn", "kn/m²", "kn/m2", "w/m²k", "w/m2k"),
			LeadTerms: []string{"U-verdi", "Tetthet"},
		},
		{
			Key:       "automasjon",
			Aliases:   []string{"automasjon", "byggautomasjon", "sd-anlegg", "automation", "bms"},
			Core:      []string{"automasjon", "styring", "regulering", "sensor", "føler", "alarm", "bacnet", "modbus", "sd-anlegg", "signal", "controller"},
			Units:     unitsRE("%", "°c", "ppm", "v", "ma", "s"),
			LeadTerms: []string{"Romtemperatur", "Fuktighet"},
		},
	}
}
