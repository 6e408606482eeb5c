package recommendation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const maxPromptLines = 200

// systemInstruction constrains the engine to a short JSON verdict.
func systemInstruction(fast bool) string {
	words := 70
	if fast {
		words = 50
	}
	return fmt.Sprintf(`Eres un asistente clínico que analiza signos vitales en adultos.
Usa rangos de referencia generales cuando no se especifiquen unidades:
  - Presión arterial: ~120/80 mmHg (alta >=140/90, baja <90/60)
  - Frecuencia cardíaca: 60–100 lpm
  - Frecuencia respiratoria: 12–20 rpm
  - Temperatura: 36.1–37.2 °C (fiebre >=38 °C)
  - Saturación O2: >=95%% (alarma <90%%)
  - Glucosa ayunas: 70–99 mg/dL (>=126 diabético)
Responde en español con UN JSON MUY CORTO y solo estas claves:
{
  "recomendacion": string (<= %d palabras),
  "alterados": [{"param":"presion_arterial|frecuencia_cardiaca|frecuencia_respiratoria|temperatura|saturacion_oxigeno|peso|glucosa","valor":string,"motivo":string}] (0-3),
  "acciones": string[] (3 items cortos),
  "prioridad": "alta"|"media"|"baja",
  "alerta": true|false
}
Reglas:
- SOLO incluye en "alterados" lo fuera de rango; si todos normales, "alterados" vacío.
- Si no hay alteraciones: prioridad "baja" y alerta false.
No agregues ninguna otra clave ni texto fuera del JSON.`, words)
}

// userPrompt prefixes the mode and keeps the first non-empty lines.
func userPrompt(mode Mode, prompt string) string {
	var kept []string
	for _, line := range strings.Split(strings.ReplaceAll(prompt, "\r\n", "\n"), "\n") {
		if line == "" {
			continue
		}
		kept = append(kept, line)
		if len(kept) == maxPromptLines {
			break
		}
	}
	return "MODO: " + string(mode) + "\n" + strings.Join(kept, "\n") +
		"\n\nGenera la respuesta siguiendo estrictamente el formato solicitado."
}

// engineReply is the engine's JSON verdict after lenient decoding.
type engineReply struct {
	Recommendation string
	Findings       []Abnormality
	Actions        []string
	Priority       Priority
	Alert          bool
}

// parseReply decodes the object between the first '{' and the last '}'.
// Fields of the wrong type are read as leniently as possible; only text that
// is not a JSON object at all is an error. An empty reply decodes as {}.
func parseReply(raw string) (engineReply, error) {
	raw = strings.TrimSpace(raw)
	if s, e := strings.IndexByte(raw, '{'), strings.LastIndexByte(raw, '}'); s >= 0 && e > s {
		raw = raw[s : e+1]
	}
	if raw == "" {
		raw = "{}"
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return engineReply{}, fmt.Errorf("decode engine reply: %w", err)
	}

	reply := engineReply{
		Recommendation: strings.TrimSpace(lenientString(fields["recomendacion"])),
		Priority:       PriorityMedium,
		Alert:          lenientBool(fields["alerta"]),
	}
	if p := lenientString(fields["prioridad"]); p != "" {
		reply.Priority = ParsePriority(p)
	}

	var items []json.RawMessage
	if json.Unmarshal(fields["acciones"], &items) == nil {
		for _, it := range items {
			if s := strings.TrimSpace(lenientString(it)); s != "" {
				reply.Actions = append(reply.Actions, s)
			}
		}
		reply.Actions = limit(reply.Actions, maxListed)
	}

	items = nil
	if json.Unmarshal(fields["alterados"], &items) == nil {
		for _, it := range limit(items, maxListed) {
			var f map[string]json.RawMessage
			if json.Unmarshal(it, &f) != nil {
				continue
			}
			reply.Findings = append(reply.Findings, Abnormality{
				Param:  engineKind(lenientString(f["param"])),
				Value:  lenientString(f["valor"]),
				Reason: lenientString(f["motivo"]),
			})
		}
	}
	return reply, nil
}

// engineKind maps whatever name the engine used onto a known kind when the
// vocabulary matches, otherwise keeps it verbatim.
func engineKind(param string) Kind {
	if k, ok := classify(fold(param)); ok {
		return k
	}
	return Kind(strings.TrimSpace(param))
}

func lenientString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var v any
	if json.Unmarshal(raw, &v) != nil || v == nil {
		return ""
	}
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func lenientBool(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "si", "sí", "1":
			return true
		}
	}
	return false
}

// replyContext is what the adapter needs to turn an engine reply into text.
type replyContext struct {
	mode       Mode
	local      []Abnormality
	rangeLabel string
	force      bool
	provider   string
}

// rendered is the text produced from one engine reply plus how it was chosen.
type rendered struct {
	text     string
	fallback string
	source   string
}

// interpret applies the reply policy. Local findings win over an engine that
// reports nothing abnormal, unless the caller forced the engine's own text.
func interpret(raw string, rc replyContext) rendered {
	reply, err := parseReply(raw)
	if err != nil {
		return rendered{text: localText(rc)}
	}

	if len(reply.Findings) > 0 {
		actions := reply.Actions
		if len(actions) == 0 {
			actions = EngineDefaultActions
		}
		return rendered{text: Render(rc.mode, Abnormal{
			Findings: reply.Findings,
			Actions:  actions,
			Banner:   &Banner{Priority: reply.Priority, Alert: reply.Alert},
		})}
	}

	switch {
	case rc.force && reply.Recommendation != "":
		return rendered{
			text:   Render(rc.mode, Direct{Banner: Banner{Priority: reply.Priority, Alert: reply.Alert}, Text: reply.Recommendation}),
			source: rc.provider + "-direct",
		}
	case len(rc.local) > 0:
		return rendered{text: localText(rc), fallback: fallbackLocalRules}
	default:
		return rendered{text: Render(rc.mode, Stable{RangeLabel: rc.rangeLabel})}
	}
}

func localText(rc replyContext) string {
	if len(rc.local) == 0 {
		return Render(rc.mode, Stable{RangeLabel: rc.rangeLabel})
	}
	return Render(rc.mode, Abnormal{Findings: rc.local, RangeLabel: rc.rangeLabel})
}
