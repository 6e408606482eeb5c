package recommendation

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Kind is a vital-sign category.
type Kind string

const (
	KindBloodPressure    Kind = "presion_arterial"
	KindHeartRate        Kind = "frecuencia_cardiaca"
	KindRespiratoryRate  Kind = "frecuencia_respiratoria"
	KindTemperature      Kind = "temperatura"
	KindOxygenSaturation Kind = "saturacion_oxigeno"
	KindWeight           Kind = "peso"
	KindGlucose          Kind = "glucosa"
)

// AllKinds lists every kind a clinic can record, in display order.
var AllKinds = []Kind{
	KindBloodPressure, KindHeartRate, KindRespiratoryRate, KindTemperature,
	KindOxygenSaturation, KindWeight, KindGlucose,
}

// Valid reports whether k is one of AllKinds.
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Reading is one numeric measurement extracted from a prompt line. Blood
// pressure uses Systolic and an optional Diastolic; every other kind uses Value.
type Reading struct {
	Kind      Kind     `json:"-"`
	Value     float64  `json:"val,omitempty"`
	Systolic  float64  `json:"sys,omitempty"`
	Diastolic *float64 `json:"dia,omitempty"`
}

// Series holds every reading of one kind in prompt order. Latest is the
// first one seen, matching summaries that list the newest value first.
type Series struct {
	Readings []Reading `json:"readings"`
	Latest   Reading   `json:"latest"`
}

// Stats groups the readings of one prompt by kind.
type Stats struct {
	order  []Kind
	series map[Kind]*Series
}

// Kinds returns the detected kinds in order of first appearance.
func (s Stats) Kinds() []Kind { return s.order }

// Series returns the readings for kind, or nil when none were found.
func (s Stats) Series(kind Kind) *Series { return s.series[kind] }

// Len is the number of distinct kinds detected.
func (s Stats) Len() int { return len(s.order) }

func (s Stats) MarshalJSON() ([]byte, error) {
	if s.series == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.series)
}

func (s *Stats) add(r Reading) {
	if s.series == nil {
		s.series = make(map[Kind]*Series)
	}
	ser, ok := s.series[r.Kind]
	if !ok {
		ser = &Series{Latest: r}
		s.series[r.Kind] = ser
		s.order = append(s.order, r.Kind)
	}
	ser.Readings = append(ser.Readings, r)
}

var (
	lineRe        = regexp.MustCompile(`^\s*[-•]?\s*([^:]+):\s*(.+)`)
	latestRe      = regexp.MustCompile(`\bul?t\s*=\s*([^,]+)`)
	dateRe        = regexp.MustCompile(`\(?\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\)?`)
	unitRe        = regexp.MustCompile(`(?i)\s*(mmhg|lpm|rpm|°c|kg)\b|\s*%`)
	pressureRe    = regexp.MustCompile(`(\d{2,3})\s*/\s*(\d{2,3})`)
	leadingNumRe  = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)`)
	rangeLabelRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ventana analizada:\s*([^\n]+)`),
		regexp.MustCompile(`(?i)rango:\s*([^\n]+)`),
	}
)

// fold lower-cases s and strips diacritics ("Saturación" -> "saturacion").
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

var kindKeywords = []struct {
	kind     Kind
	keywords []string
}{
	{KindBloodPressure, []string{"presion", "arterial"}},
	{KindHeartRate, []string{"frecuencia_cardiaca", "cardiaca", "pulso"}},
	{KindRespiratoryRate, []string{"frecuencia_respiratoria", "respiratoria"}},
	{KindTemperature, []string{"temperatura", "temp"}},
	{KindOxygenSaturation, []string{"saturacion", "oxigeno", "spo2", "o2"}},
	{KindGlucose, []string{"glucosa"}},
	{KindWeight, []string{"peso"}},
}

func classify(label string) (Kind, bool) {
	for _, kk := range kindKeywords {
		for _, kw := range kk.keywords {
			if strings.Contains(label, kw) {
				return kk.kind, true
			}
		}
	}
	return "", false
}

// cleanValue reduces a raw value to the part that carries the number:
// the "últ=" component of compact summaries, without dates, trailing
// parentheticals or units, with a decimal comma turned into a point.
func cleanValue(raw string) string {
	v := fold(raw)
	if m := latestRe.FindStringSubmatch(v); m != nil {
		v = m[1]
	}
	v = dateRe.ReplaceAllString(v, "")
	if i := strings.IndexByte(v, '('); i >= 0 {
		v = v[:i]
	}
	v = strings.Replace(v, ",", ".", 1)
	v = unitRe.ReplaceAllString(v, "")
	return strings.TrimSpace(v)
}

// leadingFloat keeps digits and points and parses the longest numeric prefix.
func leadingFloat(s string) (float64, bool) {
	digits := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, s)
	m := leadingNumRe.FindString(digits)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(m, "."), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseLine extracts a reading from a "Label: value" line. The second result
// is false for lines that are not readings; parsing never fails otherwise.
func ParseLine(line string) (Reading, bool) {
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return Reading{}, false
	}
	label := fold(strings.TrimSpace(m[1]))
	value := cleanValue(strings.TrimSpace(m[2]))

	kind, ok := classify(label)
	if !ok {
		return Reading{}, false
	}

	if kind == KindBloodPressure {
		if pm := pressureRe.FindStringSubmatch(value); pm != nil {
			sys, _ := strconv.ParseFloat(pm[1], 64)
			dia, _ := strconv.ParseFloat(pm[2], 64)
			return Reading{Kind: kind, Systolic: sys, Diastolic: &dia}, true
		}
		sys, ok := leadingFloat(value)
		if !ok {
			return Reading{}, false
		}
		return Reading{Kind: kind, Systolic: sys}, true
	}

	num, ok := leadingFloat(value)
	if !ok {
		return Reading{}, false
	}
	return Reading{Kind: kind, Value: num}, true
}

// ExtractStats parses every line of prompt. Unrecognised lines are skipped.
func ExtractStats(prompt string) Stats {
	var s Stats
	for _, line := range strings.Split(prompt, "\n") {
		if r, ok := ParseLine(line); ok {
			s.add(r)
		}
	}
	return s
}

// ExtractRangeLabel returns the analysed period named by a "Ventana analizada:"
// or "Rango:" line, trimmed to 60 characters, or "".
func ExtractRangeLabel(prompt string) string {
	var label string
	for _, re := range rangeLabelRes {
		if m := re.FindStringSubmatch(prompt); m != nil {
			label = m[1]
			break
		}
	}
	if i := strings.IndexByte(label, '('); i >= 0 {
		label = label[:i]
	}
	label = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(label), "."))
	if r := []rune(label); len(r) > 60 {
		label = string(r[:60])
	}
	return label
}
