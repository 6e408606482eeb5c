package recommendation

import "testing"

func evaluatePrompt(prompt string) []Abnormality {
	return Evaluate(ExtractStats(prompt))
}

func TestEvaluate_PressureScenario(t *testing.T) {
	abns := evaluatePrompt("Presión arterial: 150/95\nFrecuencia cardiaca: 72")
	if len(abns) != 1 {
		t.Fatalf("expected 1 abnormality, got %d: %+v", len(abns), abns)
	}
	a := abns[0]
	if a.Param != KindBloodPressure || a.Reason != "alta" || a.Value != "150/95 mmHg" || a.Score != 2 {
		t.Errorf("unexpected abnormality: %+v", a)
	}
}

func TestEvaluate_Thresholds(t *testing.T) {
	tests := []struct {
		line   string
		reason string
		value  string
		score  int
	}{
		{"Presión arterial: 165/85", "muy alta", "165/85 mmHg", 3},
		{"Presión arterial: 120/100", "muy alta", "120/100 mmHg", 3},
		{"Presión arterial: 145/85", "alta", "145/85 mmHg", 2},
		{"Presión arterial: 130/90", "alta", "130/90 mmHg", 2},
		{"Presión arterial: 75/55", "muy baja", "75/55 mmHg", 3},
		{"Presión arterial: 100/45", "muy baja", "100/45 mmHg", 3},
		{"Presión arterial: 85/65", "baja", "85/65 mmHg", 2},
		{"Presión arterial: 150", "alta", "150 mmHg", 2},
		{"Frecuencia cardiaca: 121", "muy alta", "121 lpm", 3},
		{"Frecuencia cardiaca: 101", "alta", "101 lpm", 2},
		{"Frecuencia cardiaca: 39", "muy baja", "39 lpm", 3},
		{"Frecuencia cardiaca: 49", "baja", "49 lpm", 2},
		{"Frecuencia respiratoria: 29", "muy alta", "29 rpm", 3},
		{"Frecuencia respiratoria: 22", "alta", "22 rpm", 2},
		{"Frecuencia respiratoria: 9", "muy baja", "9 rpm", 3},
		{"Frecuencia respiratoria: 11", "baja", "11 rpm", 2},
		{"Temperatura: 39", "fiebre alta", "39 °C", 3},
		{"Temperatura: 38.5", "fiebre", "38.5 °C", 2},
		{"Temperatura: 34.9", "hipotermia", "34.9 °C", 3},
		{"Temperatura: 35.5", "temperatura baja", "35.5 °C", 2},
		{"Saturación O2: 89", "alarma", "89%", 3},
		{"Saturación O2: 92", "baja", "92%", 2},
		{"Glucosa: 250", "muy alta", "250 mg/dL", 3},
		{"Glucosa: 180", "alta", "180 mg/dL", 2},
		{"Glucosa: 130", "alta", "130 mg/dL", 2},
		{"Glucosa: 59", "muy baja", "59 mg/dL", 3},
		{"Glucosa: 69", "baja", "69 mg/dL", 2},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			abns := evaluatePrompt(tt.line)
			if len(abns) != 1 {
				t.Fatalf("expected 1 abnormality, got %+v", abns)
			}
			a := abns[0]
			if a.Reason != tt.reason || a.Value != tt.value || a.Score != tt.score {
				t.Errorf("got {%s %s %d}, want {%s %s %d}", a.Reason, a.Value, a.Score, tt.reason, tt.value, tt.score)
			}
		})
	}
}

func TestEvaluate_Normal(t *testing.T) {
	lines := []string{
		"Presión arterial: 120/80",
		"Frecuencia cardiaca: 100",
		"Frecuencia cardiaca: 50",
		"Frecuencia respiratoria: 16",
		"Temperatura: 36.5",
		"Temperatura: 37.9",
		"Saturación O2: 95",
		"Glucosa: 100",
		"Peso: 300",
	}
	for _, line := range lines {
		if abns := evaluatePrompt(line); len(abns) != 0 {
			t.Errorf("expected %q to be normal, got %+v", line, abns)
		}
	}
}

func TestEvaluate_OutliersRejected(t *testing.T) {
	lines := []string{
		"Presión arterial: 300/95",
		"Presión arterial: 150/160",
		"Presión arterial: 40",
		"Frecuencia cardiaca: 250",
		"Frecuencia cardiaca: 15",
		"Frecuencia respiratoria: 70",
		"Frecuencia respiratoria: 4",
		"Temperatura: 44",
		"Temperatura: 29",
		"Saturación O2: 101",
		"Saturación O2: 45",
		"Glucosa: 700",
		"Glucosa: 10",
	}
	for _, line := range lines {
		if abns := evaluatePrompt(line); len(abns) != 0 {
			t.Errorf("expected outlier %q to be discarded, got %+v", line, abns)
		}
	}
}

func TestEvaluate_OutlierDoesNotHideValidReading(t *testing.T) {
	abns := evaluatePrompt("Frecuencia cardiaca: 250\nFrecuencia cardiaca: 110")
	if len(abns) != 1 || abns[0].Value != "110 lpm" {
		t.Errorf("expected the valid reading to be flagged, got %+v", abns)
	}
}

func TestEvaluate_WorstReadingWins(t *testing.T) {
	prompt := "Frecuencia cardiaca: 105\nFrecuencia cardiaca: 130\nFrecuencia cardiaca: 45"
	abns := evaluatePrompt(prompt)
	if len(abns) != 1 {
		t.Fatalf("expected 1 abnormality, got %+v", abns)
	}
	if abns[0].Value != "130 lpm" || abns[0].Score != 3 {
		t.Errorf("expected the 130 lpm reading, got %+v", abns[0])
	}
}

func TestEvaluate_TieKeepsFirst(t *testing.T) {
	abns := evaluatePrompt("Temperatura: 38.2\nTemperatura: 38.7")
	if len(abns) != 1 || abns[0].Value != "38.2 °C" {
		t.Errorf("expected the first fever reading, got %+v", abns)
	}
}

func TestEvaluate_ChosenScoreDominates(t *testing.T) {
	prompts := []string{
		"Glucosa: 130\nGlucosa: 55\nGlucosa: 260\nGlucosa: 65",
		"Presión arterial: 145/92\nPresión arterial: 170/100\nPresión arterial: 85/58",
		"Saturación O2: 94\nSaturación O2: 88\nSaturación O2: 99",
		"Frecuencia respiratoria: 22\nFrecuencia respiratoria: 16\nFrecuencia respiratoria: 11",
	}
	for _, prompt := range prompts {
		stats := ExtractStats(prompt)
		abns := Evaluate(stats)
		if len(abns) != 1 {
			t.Fatalf("expected 1 abnormality for %q, got %+v", prompt, abns)
		}
		for _, r := range stats.Series(abns[0].Param).Readings {
			if other, ok := evaluateReading(r); ok && other.Score > abns[0].Score {
				t.Errorf("%q: chosen score %d below reading score %d", prompt, abns[0].Score, other.Score)
			}
		}
	}
}

func TestEvaluate_OrderFollowsPrompt(t *testing.T) {
	abns := evaluatePrompt("Glucosa: 300\nTemperatura: 36.6\nPresión arterial: 150/95\nSpO2: 91")
	if len(abns) != 3 {
		t.Fatalf("expected 3 abnormalities, got %+v", abns)
	}
	want := []Kind{KindGlucose, KindBloodPressure, KindOxygenSaturation}
	for i, k := range want {
		if abns[i].Param != k {
			t.Errorf("position %d: expected %s, got %s", i, k, abns[i].Param)
		}
	}
	if MaxScore(abns) != 3 {
		t.Errorf("expected max score 3, got %d", MaxScore(abns))
	}
}

func TestMaxScore_Empty(t *testing.T) {
	if MaxScore(nil) != 0 {
		t.Error("expected 0 for no abnormalities")
	}
}
