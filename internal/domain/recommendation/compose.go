package recommendation

import "strings"

// Mode selects the angle of a recommendation.
type Mode string

const (
	ModeGeneral Mode = "general"
	ModeConcern Mode = "preocupante"
	ModeWatch   Mode = "vigilar"
	ModeHabits  Mode = "habitos"
)

const defaultHeader = "🩺 Recomendación médica"

var modeLabels = map[Mode]string{
	ModeGeneral: "Revisión general",
	ModeConcern: "¿Hay algo preocupante?",
	ModeWatch:   "Qué vigilar",
	ModeHabits:  "Hábitos y cuidados",
}

// ParseMode maps a query value to a Mode. Unknown values mean ModeGeneral.
func ParseMode(s string) Mode {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := modeLabels[m]; ok {
		return m
	}
	return ModeGeneral
}

// Label is the human title of the mode.
func (m Mode) Label() string {
	if l, ok := modeLabels[m]; ok {
		return l
	}
	return modeLabels[ModeGeneral]
}

func (m Mode) actionsTitle() string {
	switch m {
	case ModeWatch:
		return "Qué vigilar:"
	case ModeHabits:
		return "Hábitos y cuidados:"
	default:
		return "Acciones inmediatas:"
	}
}

// Priority is the urgency shown in the banner.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// ParsePriority reads an engine's "alta"/"media"/"baja". Anything else is medium.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "alta":
		return PriorityHigh
	case "baja":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "🔴 ALTA"
	case PriorityLow:
		return "🟢 BAJA"
	default:
		return "🟠 MEDIA"
	}
}

// Banner is the priority line under the title.
type Banner struct {
	Priority Priority
	Alert    bool
}

func (b Banner) String() string {
	s := "Prioridad: " + b.Priority.String()
	if b.Alert {
		s += "  ⚠️ ALERTA"
	}
	return s
}

// bannerFor derives the banner from local findings.
func bannerFor(abns []Abnormality) Banner {
	if MaxScore(abns) >= 3 {
		return Banner{Priority: PriorityHigh, Alert: true}
	}
	return Banner{Priority: PriorityMedium}
}

var paramLabels = map[Kind]string{
	KindBloodPressure:    "Presión arterial",
	KindHeartRate:        "Frecuencia cardíaca",
	KindRespiratoryRate:  "Frecuencia respiratoria",
	KindTemperature:      "Temperatura",
	KindOxygenSaturation: "Saturación O₂",
	KindGlucose:          "Glucosa",
	KindWeight:           "Peso",
}

// ParamLabel is the display name of a kind; unknown kinds print as-is.
func ParamLabel(k Kind) string {
	if l, ok := paramLabels[k]; ok {
		return l
	}
	return string(k)
}

var (
	localActions = []string{
		"Control domiciliario de signos 2–3 veces/día",
		"Hidratación y reposo relativo",
		"Consultar si aparecen síntomas de alarma",
	}
	// EngineDefaultActions fill in when an engine reports findings but no actions.
	EngineDefaultActions = []string{
		"Continuar monitorización domiciliaria",
		"Registrar signos 2 veces/día",
		"Consultar si aparecen síntomas de alarma",
	}
	busyActions = []string{
		"Controlar signos 1–2 veces/día",
		"Hidratación y descanso relativo",
		"Consultar si aparecen síntomas de alarma",
	}
)

const (
	maxListed     = 3
	nextStepsLine = "Siguientes pasos: Revalorar en 24–48 h o antes si hay empeoramiento."
	safetyLine    = "Seguridad del paciente: Si presenta dificultad para respirar, dolor torácico, confusión o fiebre alta persistente, acuda a urgencias."
)

// Situation is one of Stable, Abnormal, Busy, Timeout or Direct.
type Situation interface {
	situation()
}

// Stable: readings present (or none at all) and nothing out of range.
type Stable struct {
	RangeLabel string
}

// Abnormal lists findings with an action plan. Banner, when set, replaces the
// priority derived from the findings; Actions, when empty, the default plan.
type Abnormal struct {
	Findings   []Abnormality
	Actions    []string
	RangeLabel string
	Banner     *Banner
}

// Busy: the concurrency gate was full.
type Busy struct{}

// Timeout: the engine missed its deadline.
type Timeout struct{}

// Direct wraps an engine's own text under its banner.
type Direct struct {
	Banner Banner
	Text   string
}

func (Stable) situation()   {}
func (Abnormal) situation() {}
func (Busy) situation()     {}
func (Timeout) situation()  {}
func (Direct) situation()   {}

// Render produces the recommendation text. It is pure and never empty.
func Render(mode Mode, s Situation) string {
	var lines []string
	switch v := s.(type) {
	case Abnormal:
		lines = renderAbnormal(mode, v)
	case Busy:
		lines = []string{
			defaultHeader,
			Banner{Priority: PriorityMedium}.String(),
			"",
			"Acciones inmediatas:",
			bullets(busyActions),
			"",
			"Siguientes pasos: Reintenta en 1–2 minutos.",
			"Seguridad del paciente: Si presenta dificultad respiratoria, dolor torácico o confusión, acuda a urgencias.",
		}
	case Timeout:
		lines = []string{
			defaultHeader,
			Banner{Priority: PriorityMedium}.String(),
			"",
			"Acciones inmediatas:",
			bullets(EngineDefaultActions),
			"",
			"Siguientes pasos: Reintenta cuando haya menos carga.",
		}
	case Direct:
		lines = []string{defaultHeader, v.Banner.String(), "", strings.TrimSpace(v.Text)}
	case Stable:
		lines = renderStable(mode, v)
	default:
		lines = renderStable(mode, Stable{})
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func header(mode Mode) string {
	return defaultHeader + " — " + mode.Label()
}

func renderStable(mode Mode, s Stable) []string {
	obs := "Signos vitales dentro de rangos normales."
	if s.RangeLabel != "" {
		obs = "Signos vitales dentro de rangos normales para el periodo " + withPreposition(s.RangeLabel) + "."
	}
	return []string{
		header(mode),
		Banner{Priority: PriorityLow}.String(),
		"",
		obs,
		"No se identifican parámetros fuera de rango clínico en el periodo evaluado.",
		"Mantenga la monitorización según indicaciones de su médico.",
		"Si aparecen síntomas nuevos o malestar, contacte a su equipo de salud.",
	}
}

// withPreposition prefixes "de" unless the label already starts with an
// article or preposition ("la última semana", "del 1 al 7").
func withPreposition(label string) string {
	words := strings.Fields(label)
	if len(words) == 0 {
		return label
	}
	switch strings.ToLower(words[0]) {
	case "de", "del", "la", "los", "las":
		return label
	}
	return "de " + label
}

func renderAbnormal(mode Mode, a Abnormal) []string {
	banner := bannerFor(a.Findings)
	if a.Banner != nil {
		banner = *a.Banner
	}
	actions := a.Actions
	if len(actions) == 0 {
		actions = localActions
	}

	lines := []string{header(mode), banner.String(), ""}
	if a.RangeLabel != "" {
		lines = append(lines, "Periodo evaluado: "+a.RangeLabel, "")
	}

	lines = append(lines, "Parámetros a corregir:")
	for i, f := range a.Findings {
		if i == maxListed {
			break
		}
		lines = append(lines, strings.TrimSpace("• "+ParamLabel(f.Param)+": "+f.Value+" — "+f.Reason))
	}

	return append(lines,
		"",
		mode.actionsTitle(),
		bullets(limit(actions, maxListed)),
		"",
		nextStepsLine,
		safetyLine,
	)
}

func limit[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func bullets(items []string) string {
	var b strings.Builder
	for _, it := range items {
		if it = strings.TrimSpace(it); it == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("• " + it)
	}
	return b.String()
}
