package prompt

import (
	"strings"
)

const DefaultBackdrop = "lasers"

type Options struct {
	Backdrop string // "lasers" | "smoke" | "velvet" | "neon"
	// Note is a free-form styling wish added to the prompt.
	Note string
}

type Backdrop struct {
	Name  string
	Add   []string
	Notes []string
}

type NamedOption struct {
	Key  string
	Name string
}

var backdrops = map[string]Backdrop{
	"lasers": {
		Name: "Laser Grid Studio",
		Add: []string{
			"mottled blue-purple studio backdrop crossed by pink and cyan laser beams",
			"laser beams fan out behind the subject, never across the face",
			"light haze so the beams read clearly",
		},
	},
	"smoke": {
		Name: "Smoke Machine Dream",
		Add: []string{
			"dense low smoke drifting behind the subject",
			"warm backlight glowing through the smoke",
			"gradient backdrop from peach to lavender",
		},
		Notes: []string{"Smoke stays behind the subject and never hides the face."},
	},
	"velvet": {
		Name: "Velvet Drape Portrait",
		Add: []string{
			"crushed velvet drape backdrop in deep jewel tones",
			"subject posed with hand under chin or over the shoulder",
			"single rose or pearl prop allowed",
		},
	},
	"neon": {
		Name: "Neon Mall Studio",
		Add: []string{
			"neon tubes in geometric shapes glowing out of focus",
			"chrome and pastel triangles floating in the background",
			"magenta rim light on hair",
		},
		Notes: []string{"Neon shapes carry no readable text."},
	},
}

func Backdrops() []NamedOption {
	order := []string{"lasers", "smoke", "velvet", "neon"}

	out := make([]NamedOption, 0, len(order))
	for _, key := range order {
		if b, ok := backdrops[key]; ok {
			out = append(out, NamedOption{Key: key, Name: b.Name})
		}
	}
	return out
}

// ResolveBackdrop maps unknown or empty keys to the default backdrop.
func ResolveBackdrop(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if _, ok := backdrops[key]; ok {
		return key
	}
	return DefaultBackdrop
}

// ParseCaption reads a photo caption. A leading backdrop key selects the
// backdrop and the rest becomes the note.
func ParseCaption(caption string) Options {
	caption = strings.TrimSpace(caption)
	if caption == "" {
		return Options{}
	}
	first, rest, _ := strings.Cut(caption, " ")
	key := strings.ToLower(strings.Trim(first, ".,!:;"))
	if _, ok := backdrops[key]; ok {
		return Options{Backdrop: key, Note: strings.TrimSpace(rest)}
	}
	return Options{Note: caption}
}

// BuildGlamour returns the instruction sent with the user's photo to open a
// session.
func BuildGlamour(opts Options) string {
	key := ResolveBackdrop(opts.Backdrop)
	backdrop := backdrops[key]

	var b strings.Builder
	b.Grow(2048)

	b.WriteString("TASK: Transform the attached photo into a classic 1980s mall-studio glamour shot.\n\n")

	b.WriteString("REFERENCE PHOTO (IDENTITY LOCK):\n")
	for _, line := range []string{
		"Keep every person in the photo recognizable: face shape, eyes, skin tone and expression.",
		"Do not add or remove people.",
		"Treat this as an image edit, not a new portrait of someone else.",
	} {
		b.WriteString("- " + line + "\n")
	}
	b.WriteString("\n")

	writeSection(&b, "Styling", []string{
		"big teased and feathered hair with volume",
		"bold 80s makeup: frosted eyeshadow, blush, glossy lips",
		"shoulder pads, sequins, satin or denim jacket as fits the subject",
		"oversized earrings or statement jewelry",
	})
	writeSection(&b, "Lighting and lens", []string{
		"heavy soft-focus diffusion filter",
		"dreamy glow and bloom on highlights",
		"strong hair light",
		"slight film grain and warm color cast of a 1980s print",
	})
	b.WriteString("\n")

	b.WriteString("BACKDROP:\n")
	b.WriteString("- " + backdrop.Name + "\n")
	for _, line := range backdrop.Add {
		b.WriteString("- " + line + "\n")
	}
	for _, line := range backdrop.Notes {
		b.WriteString("- NOTE: " + line + "\n")
	}
	b.WriteString("\n")

	if note := strings.TrimSpace(opts.Note); note != "" {
		b.WriteString("ADDITIONAL NOTES:\n")
		b.WriteString("- " + note + "\n\n")
	}

	b.WriteString("OUTPUT RULES:\n")
	b.WriteString("- Return exactly one image.\n")
	b.WriteString("- No text, captions, watermarks or borders.\n")

	return strings.TrimSpace(b.String())
}

// Remix wraps a follow-up instruction so the model edits the latest image
// instead of starting over.
func Remix(instruction string) string {
	instruction = strings.TrimSpace(instruction)

	var b strings.Builder
	b.WriteString("Edit the most recent glamour shot: ")
	b.WriteString(instruction)
	b.WriteString("\n\nKeep the same person, pose and 80s glamour style unless the edit asks otherwise. Return one image.")
	return b.String()
}

func Video(motion string) string {
	motion = strings.TrimSpace(motion)
	return motion + ". Keep the person's face and the 80s glamour styling consistent throughout. Subtle soft-focus glow, no text."
}

func writeSection(b *strings.Builder, title string, lines []string) {
	b.WriteString("- " + title + ":\n")
	for _, line := range lines {
		b.WriteString("  - " + line + "\n")
	}
}
