package command_parser

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"voice-gamepad/mappings"
)

// entry pairs a lower-cased command phrase with its mapping. Entries are
// ordered longest phrase first; for equal lengths, insertion order.
type entry struct {
	command string
	mapping mappings.Mapping
}

// Parser resolves recognized text to the configured mapping it most
// specifically identifies. The index over the active mapping set is
// rebuilt in full on every change and published by pointer swap, so
// Parse never observes a partially built index.
type Parser struct {
	mu     sync.Mutex // serializes Update
	index  atomic.Pointer[[]entry]
	logger *zap.Logger
}

func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Parser{logger: logger}
	p.index.Store(&[]entry{})

	return p
}

// Update replaces the active mapping set. Mappings that fail validation
// are not installed; their problems are returned for the caller to
// surface.
func (p *Parser) Update(set []mappings.Mapping) []string {
	var problems []string

	entries := make([]entry, 0, len(set))
	for _, m := range set {
		if issues := m.Validate(); len(issues) > 0 {
			problems = append(problems, issues...)

			p.logger.Warn("skipping invalid mapping",
				zap.String("voice_command", m.VoiceCommand),
				zap.Strings("problems", issues))

			continue
		}

		entries = append(entries, entry{
			command: strings.ToLower(strings.TrimSpace(m.VoiceCommand)),
			mapping: m,
		})
	}

	// Stable sort keeps insertion order among equal-length phrases, which
	// is the tie-break when two mappings share a command string.
	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].command) > len(entries[j].command)
	})

	p.mu.Lock()
	p.index.Store(&entries)
	p.mu.Unlock()

	return problems
}

// Parse returns the mapping for the recognized text, or false when
// nothing matches. Matching is case-insensitive over trimmed text: one
// full scan for an exact phrase match, then a second scan for the first
// (therefore longest) phrase contained anywhere in the text.
func (p *Parser) Parse(recognized string) (mappings.Mapping, bool) {
	text := strings.ToLower(strings.TrimSpace(recognized))
	if text == "" {
		return mappings.Mapping{}, false
	}

	index := *p.index.Load()

	for _, e := range index {
		if e.command == text {
			p.logger.Debug("exact match",
				zap.String("text", text),
				zap.String("command", e.command))

			return e.mapping, true
		}
	}

	for _, e := range index {
		if strings.Contains(text, e.command) {
			p.logger.Debug("containment match",
				zap.String("text", text),
				zap.String("command", e.command))

			return e.mapping, true
		}
	}

	return mappings.Mapping{}, false
}
