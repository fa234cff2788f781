package engine

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Avatar is one of the fixed set of player portraits. The numeric value is
// the order the assets ship in and is what gets stored in the player account.
type Avatar uint8

var avatarNames = []string{
	"life-in-the-balance",
	"pierced-heart",
	"haunting",
	"skeletal-hand",
	"sarcophagus",
	"spectre",
	"slipknot",
	"shambling-zombie",
	"oni",
	"telefrag",
	"morgue-feet",
	"decapitation",
	"dead-head",
	"anubis",
	"ghost",
	"scythe",
	"graveyard",
	"reaper-scythe",
	"drowning",
	"internal-injury",
	"prayer",
	"dead-eye",
	"resting-vampire",
	"guillotine",
	"tombstone",
	"dead-wood",
	"pirate-grave",
	"coffin",
	"carrion",
	"egyptian-urns",
	"grave-flowers",
	"grim-reaper",
	"executioner-hood",
	"maggot",
}

// NumAvatars is the size of the avatar set.
var NumAvatars = len(avatarNames)

func (a Avatar) Valid() bool { return int(a) < len(avatarNames) }

// String returns the kebab-case asset name, e.g. "grim-reaper".
func (a Avatar) String() string {
	if !a.Valid() {
		return fmt.Sprintf("avatar(%d)", uint8(a))
	}
	return avatarNames[a]
}

// Key returns the CamelCase variant name, e.g. "GrimReaper".
func (a Avatar) Key() string {
	if !a.Valid() {
		return ""
	}
	return camel(avatarNames[a])
}

func (a Avatar) File() string { return a.String() + ".png" }

func camel(kebab string) string {
	// Casers keep state, so each call gets its own.
	caser := cases.Title(language.English)
	parts := strings.Split(kebab, "-")
	for i, p := range parts {
		parts[i] = caser.String(p)
	}
	return strings.Join(parts, "")
}

func normalizeAvatar(name string) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".png")
	name = strings.NewReplacer("-", "", "_", "", " ", "").Replace(name)
	return strings.ToLower(name)
}

// ParseAvatar accepts the asset name ("grim-reaper", "grim-reaper.png"), the
// CamelCase key ("GrimReaper") and its lowerCamel form ("grimReaper").
func ParseAvatar(name string) (Avatar, error) {
	want := normalizeAvatar(name)
	if want == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAvatar)
	}
	for i, n := range avatarNames {
		if normalizeAvatar(n) == want {
			return Avatar(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAvatar, name)
}

func Avatars() []Avatar {
	out := make([]Avatar, len(avatarNames))
	for i := range avatarNames {
		out[i] = Avatar(i)
	}
	return out
}
