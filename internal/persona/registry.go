package persona

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loqalabs/voice-agent/internal/config"
)

// NeutralTone is used when a label has no registered persona.
const NeutralTone = "neutral"

// ErrUnknown is returned when a label does not match any persona.
var ErrUnknown = errors.New("unknown persona")

// Profile binds a persona label to a synthetic voice and a tone directive.
type Profile struct {
	Label   string `json:"label"`
	VoiceID string `json:"voice_id"`
	Tone    string `json:"tone"`
	Preview string `json:"preview,omitempty"`
}

// Registry is a read-only persona lookup table. It is safe for concurrent use
// because it is never mutated after construction.
type Registry struct {
	profiles []Profile
	byLabel  map[string]Profile
}

// DefaultProfiles returns the built-in persona set.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Label:   "grandma GG",
			VoiceID: "rKVm0Cb9J2wrzmZupJea",
			Tone:    "dry, witty, and brutally honest — will roast you if you mess up.",
			Preview: "Back in my day, we didn’t need AI to sound this fabulous.",
		},
		{
			Label:   "tech wizard",
			VoiceID: "ocn9CucaUfmmP6Two6Ik",
			Tone:    "cryptic, snarky, and a prodigy with code — speaks in digital spells.",
			Preview: "System online. You may now enter your query, human.",
		},
		{
			Label:   "perky sidekick",
			VoiceID: "DWR3ijzKmphlRUhbBI7t",
			Tone:    "energetic, cheerful, and endlessly supportive — like a high-five machine.",
			Preview: "You got this! Let’s answer that question together!",
		},
		{
			Label:   "bill the newscaster",
			VoiceID: "R1vZMopVRO75M5xBKX52",
			Tone:    "polished, confident, and composed — delivers everything like breaking news.",
			Preview: "Breaking news — you’ve just selected the perfect voice.",
		},
		{
			Label:   "spunky charlie",
			VoiceID: "q3yXDjF0aq4JCEo9u2g4",
			Tone:    "wildly curious, playful, and full of devil-may-care energy.",
			Preview: "Whoa! Is it story time already? Let’s go!",
		},
		{
			Label:   "sassy teen",
			VoiceID: "mBj2IDD9aXruPJHLGCAv",
			Tone:    "sarcastic, sharp-tongued, and too cool to care — flexes brainpower with attitude.",
			Preview: "Seriously? You better ask something cool.",
		},
	}
}

// FromConfig builds the registry from configured personas, falling back to
// DefaultProfiles when none are configured.
func FromConfig(cfg []config.PersonaConfig) (*Registry, error) {
	if len(cfg) == 0 {
		return NewRegistry(DefaultProfiles())
	}
	profiles := make([]Profile, 0, len(cfg))
	for _, p := range cfg {
		profiles = append(profiles, Profile{
			Label:   strings.TrimSpace(p.Label),
			VoiceID: strings.TrimSpace(p.VoiceID),
			Tone:    strings.TrimSpace(p.Tone),
			Preview: strings.TrimSpace(p.Preview),
		})
	}
	return NewRegistry(profiles)
}

// NewRegistry validates that every label and every voice id is unique.
func NewRegistry(profiles []Profile) (*Registry, error) {
	r := &Registry{
		profiles: make([]Profile, 0, len(profiles)),
		byLabel:  make(map[string]Profile, len(profiles)),
	}
	voices := make(map[string]string, len(profiles))
	for _, p := range profiles {
		if p.Label == "" || p.VoiceID == "" {
			return nil, fmt.Errorf("persona %q: label and voice id are required", p.Label)
		}
		key := normalize(p.Label)
		if _, dup := r.byLabel[key]; dup {
			return nil, fmt.Errorf("persona %q: duplicate label", p.Label)
		}
		if other, dup := voices[p.VoiceID]; dup {
			return nil, fmt.Errorf("persona %q: voice id %s already bound to %q", p.Label, p.VoiceID, other)
		}
		if p.Tone == "" {
			p.Tone = NeutralTone
		}
		voices[p.VoiceID] = p.Label
		r.byLabel[key] = p
		r.profiles = append(r.profiles, p)
	}
	return r, nil
}

// Lookup finds a persona by label, ignoring case and surrounding whitespace.
func (r *Registry) Lookup(label string) (Profile, error) {
	if r == nil {
		return Profile{}, ErrUnknown
	}
	p, ok := r.byLabel[normalize(label)]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknown, label)
	}
	return p, nil
}

// Tone returns the tone directive for label, or NeutralTone when unknown.
func (r *Registry) Tone(label string) string {
	p, err := r.Lookup(label)
	if err != nil {
		return NeutralTone
	}
	return p.Tone
}

// List returns profiles in registration order.
func (r *Registry) List() []Profile {
	if r == nil {
		return nil
	}
	out := make([]Profile, len(r.profiles))
	copy(out, r.profiles)
	return out
}

func normalize(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
