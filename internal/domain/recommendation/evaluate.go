package recommendation

import (
	"fmt"
	"strconv"
)

// Abnormality is the worst out-of-range reading of one kind.
type Abnormality struct {
	Param  Kind   `json:"param"`
	Reason string `json:"motivo"`
	Value  string `json:"valor"`
	Score  int    `json:"score"`
}

// Severe reports whether the finding warrants an alert banner.
func (a Abnormality) Severe() bool { return a.Score >= 3 }

type band struct{ min, max float64 }

// Readings outside these bands are treated as typos and ignored.
var plausible = map[Kind]band{
	KindHeartRate:        {20, 220},
	KindRespiratoryRate:  {5, 60},
	KindTemperature:      {30, 43.5},
	KindOxygenSaturation: {50, 100},
	KindGlucose:          {20, 600},
}

var (
	systolicBand  = band{50, 250}
	diastolicBand = band{30, 150}
)

func (b band) contains(v float64) bool { return v >= b.min && v <= b.max }

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// threshold is one rule of a kind's ladder; rules are tried in order.
type threshold struct {
	match  func(v float64) bool
	reason string
	score  int
}

var ladders = map[Kind][]threshold{
	KindHeartRate: {
		{func(v float64) bool { return v > 120 }, "muy alta", 3},
		{func(v float64) bool { return v > 100 }, "alta", 2},
		{func(v float64) bool { return v < 40 }, "muy baja", 3},
		{func(v float64) bool { return v < 50 }, "baja", 2},
	},
	KindRespiratoryRate: {
		{func(v float64) bool { return v > 28 }, "muy alta", 3},
		{func(v float64) bool { return v > 20 }, "alta", 2},
		{func(v float64) bool { return v < 10 }, "muy baja", 3},
		{func(v float64) bool { return v < 12 }, "baja", 2},
	},
	KindTemperature: {
		{func(v float64) bool { return v >= 39 }, "fiebre alta", 3},
		{func(v float64) bool { return v >= 38 }, "fiebre", 2},
		{func(v float64) bool { return v < 35 }, "hipotermia", 3},
		{func(v float64) bool { return v < 36 }, "temperatura baja", 2},
	},
	KindOxygenSaturation: {
		{func(v float64) bool { return v < 90 }, "alarma", 3},
		{func(v float64) bool { return v < 95 }, "baja", 2},
	},
	KindGlucose: {
		{func(v float64) bool { return v >= 250 }, "muy alta", 3},
		{func(v float64) bool { return v >= 126 }, "alta", 2},
		{func(v float64) bool { return v < 60 }, "muy baja", 3},
		{func(v float64) bool { return v < 70 }, "baja", 2},
	},
}

var units = map[Kind]string{
	KindHeartRate:        "%s lpm",
	KindRespiratoryRate:  "%s rpm",
	KindTemperature:      "%s °C",
	KindOxygenSaturation: "%s%%",
	KindGlucose:          "%s mg/dL",
}

func evaluateScalar(r Reading) (Abnormality, bool) {
	b, ok := plausible[r.Kind]
	if !ok || !b.contains(r.Value) {
		return Abnormality{}, false
	}
	for _, th := range ladders[r.Kind] {
		if th.match(r.Value) {
			return Abnormality{
				Param:  r.Kind,
				Reason: th.reason,
				Value:  fmt.Sprintf(units[r.Kind], formatNumber(r.Value)),
				Score:  th.score,
			}, true
		}
	}
	return Abnormality{}, false
}

// evaluatePressure rejects the whole reading when either component is
// outside its plausible band.
func evaluatePressure(r Reading) (Abnormality, bool) {
	sys := r.Systolic
	if !systolicBand.contains(sys) {
		return Abnormality{}, false
	}
	hasDia := r.Diastolic != nil
	var dia float64
	if hasDia {
		dia = *r.Diastolic
		if !diastolicBand.contains(dia) {
			return Abnormality{}, false
		}
	}

	var reason string
	var score int
	switch {
	case sys >= 160 || (hasDia && dia >= 100):
		reason, score = "muy alta", 3
	case sys >= 140 || (hasDia && dia >= 90):
		reason, score = "alta", 2
	case sys < 80 || (hasDia && dia < 50):
		reason, score = "muy baja", 3
	case sys < 90 || (hasDia && dia < 60):
		reason, score = "baja", 2
	default:
		return Abnormality{}, false
	}

	value := formatNumber(sys) + " mmHg"
	if hasDia {
		value = formatNumber(sys) + "/" + formatNumber(dia) + " mmHg"
	}
	return Abnormality{Param: KindBloodPressure, Reason: reason, Value: value, Score: score}, true
}

// evaluateReading scores one reading; weight is never evaluated.
func evaluateReading(r Reading) (Abnormality, bool) {
	switch r.Kind {
	case KindBloodPressure:
		return evaluatePressure(r)
	case KindWeight:
		return Abnormality{}, false
	default:
		return evaluateScalar(r)
	}
}

// Evaluate returns at most one abnormality per kind: the highest-scoring
// reading, the first one on ties. Results follow the order in which kinds
// first appeared in the prompt.
func Evaluate(stats Stats) []Abnormality {
	var out []Abnormality
	for _, kind := range stats.Kinds() {
		var best Abnormality
		found := false
		for _, r := range stats.Series(kind).Readings {
			a, ok := evaluateReading(r)
			if !ok {
				continue
			}
			if !found || a.Score > best.Score {
				best, found = a, true
			}
		}
		if found {
			out = append(out, best)
		}
	}
	return out
}

// MaxScore is the highest score among abnormalities, 0 when there are none.
func MaxScore(abns []Abnormality) int {
	m := 0
	for _, a := range abns {
		if a.Score > m {
			m = a.Score
		}
	}
	return m
}
