package config

import (
	"slices"
	"strings"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the persona
// catalog and the log level. Everything else needs a restart.
type ConfigDiff struct {
	PersonasChanged bool          // true if any persona was added, removed, or edited
	PersonaChanges  []PersonaDiff // per-persona diffs, sorted by key
	DefaultChanged  bool
	NewDefault      string
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the top-level sections whose changes are ignored
	// until the process restarts.
	RestartRequired []string
}

// PersonaDiff describes what changed for a single persona between two configs.
type PersonaDiff struct {
	Key                string
	NameChanged        bool
	VoiceChanged       bool
	InstructionChanged bool
	ToolsChanged       bool
	AliasesChanged     bool
	Added              bool
	Removed            bool
}

func (d PersonaDiff) changed() bool {
	return d.NameChanged || d.VoiceChanged || d.InstructionChanged || d.ToolsChanged || d.AliasesChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Personas.Default != new.Personas.Default {
		d.DefaultChanged = true
		d.NewDefault = new.Personas.Default
	}

	oldByKey := make(map[string]*PersonaConfig, len(old.Personas.Entries))
	for i := range old.Personas.Entries {
		oldByKey[old.Personas.Entries[i].Key] = &old.Personas.Entries[i]
	}
	newByKey := make(map[string]*PersonaConfig, len(new.Personas.Entries))
	for i := range new.Personas.Entries {
		newByKey[new.Personas.Entries[i].Key] = &new.Personas.Entries[i]
	}

	for key, op := range oldByKey {
		np, ok := newByKey[key]
		if !ok {
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{Key: key, Removed: true})
			continue
		}
		if pd := diffPersona(key, op, np); pd.changed() {
			d.PersonaChanges = append(d.PersonaChanges, pd)
		}
	}
	for key := range newByKey {
		if _, ok := oldByKey[key]; !ok {
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{Key: key, Added: true})
		}
	}
	slices.SortFunc(d.PersonaChanges, func(a, b PersonaDiff) int { return strings.Compare(a.Key, b.Key) })
	d.PersonasChanged = len(d.PersonaChanges) > 0

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Live != new.Live {
		d.RestartRequired = append(d.RestartRequired, "live")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.BargeIn != new.BargeIn {
		d.RestartRequired = append(d.RestartRequired, "bargein")
	}
	if old.User != new.User {
		d.RestartRequired = append(d.RestartRequired, "user")
	}
	return d
}

func diffPersona(key string, old, new *PersonaConfig) PersonaDiff {
	return PersonaDiff{
		Key:                key,
		NameChanged:        old.Name != new.Name,
		VoiceChanged:       old.Voice != new.Voice,
		InstructionChanged: old.Instruction != new.Instruction,
		ToolsChanged:       !slices.Equal(old.Tools, new.Tools),
		AliasesChanged:     !slices.Equal(old.Aliases, new.Aliases),
	}
}
