package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/parivox/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Personas: config.PersonasConfig{
			Default: "BadeBhaiya",
			Entries: []config.PersonaConfig{
				{Key: "BadeBhaiya", Voice: "Charon", Instruction: "Be warm.", Tools: []string{"connect_to_specialist"}},
				{Key: "IncomeAgent", Voice: "Achird", Aliases: []string{"income", "money"}},
			},
		},
	}
}

func clone(c *config.Config) *config.Config {
	out := *c
	out.Personas.Entries = make([]config.PersonaConfig, len(c.Personas.Entries))
	for i, e := range c.Personas.Entries {
		e.Tools = slices.Clone(e.Tools)
		e.Aliases = slices.Clone(e.Aliases)
		out.Personas.Entries[i] = e
	}
	return &out
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.PersonasChanged || d.LogLevelChanged || d.DefaultChanged || len(d.RestartRequired) != 0 {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelAndDefault(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	updated := clone(old)
	updated.Server.LogLevel = config.LogDebug
	updated.Personas.Default = "IncomeAgent"

	d := config.Diff(old, updated)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level: %+v", d)
	}
	if !d.DefaultChanged || d.NewDefault != "IncomeAgent" {
		t.Errorf("default: %+v", d)
	}
	if d.PersonasChanged {
		t.Error("persona entries did not change")
	}
}

func TestDiff_PersonaEdits(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	updated := clone(old)
	updated.Personas.Entries[0].Instruction = "Be brief."
	updated.Personas.Entries[0].Tools = append(updated.Personas.Entries[0].Tools, "return_to_master_agent")
	updated.Personas.Entries[1].Voice = "Puck"
	updated.Personas.Entries[1].Aliases = []string{"income"}

	d := config.Diff(old, updated)
	if !d.PersonasChanged || len(d.PersonaChanges) != 2 {
		t.Fatalf("expected 2 persona changes, got %+v", d.PersonaChanges)
	}
	bb, ia := d.PersonaChanges[0], d.PersonaChanges[1]
	if bb.Key != "BadeBhaiya" || !bb.InstructionChanged || !bb.ToolsChanged || bb.VoiceChanged {
		t.Errorf("BadeBhaiya diff: %+v", bb)
	}
	if ia.Key != "IncomeAgent" || !ia.VoiceChanged || !ia.AliasesChanged || ia.InstructionChanged {
		t.Errorf("IncomeAgent diff: %+v", ia)
	}
}

func TestDiff_AddedAndRemoved(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	updated := clone(old)
	updated.Personas.Entries = []config.PersonaConfig{
		updated.Personas.Entries[0],
		{Key: "DayPlannerAgent", Voice: "Kore"},
	}

	d := config.Diff(old, updated)
	want := []config.PersonaDiff{
		{Key: "DayPlannerAgent", Added: true},
		{Key: "IncomeAgent", Removed: true},
	}
	if !slices.Equal(d.PersonaChanges, want) {
		t.Errorf("got %+v, want %+v", d.PersonaChanges, want)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	updated := clone(old)
	updated.Live.Model = "models/other"
	updated.BargeIn.TailWindow = 1
	updated.User.Timezone = "UTC"

	d := config.Diff(old, updated)
	want := []string{"live", "bargein", "user"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired: got %v, want %v", d.RestartRequired, want)
	}
}
