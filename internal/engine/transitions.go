package engine

import "fmt"

type Status uint8

const (
	StatusWaitingForParticipants Status = iota
	StatusWaitingForStory
	StatusWaitingForDrawings
	StatusSelectingWinner
	StatusWaitForMinting
	StatusCompleted
)

var statusNames = []string{
	StatusWaitingForParticipants: "waitingForParticipants",
	StatusWaitingForStory:        "waitingForStory",
	StatusWaitingForDrawings:     "waitingForDrawings",
	StatusSelectingWinner:        "selectingWinner",
	StatusWaitForMinting:         "waitForMinting",
	StatusCompleted:              "completed",
}

// GameFlow maps each status to the one the game moves to when it exits.
// Completed has no successor.
var GameFlow = map[Status]Status{
	StatusWaitingForParticipants: StatusWaitingForStory,
	StatusWaitingForStory:        StatusWaitingForDrawings,
	StatusWaitingForDrawings:     StatusSelectingWinner,
	StatusSelectingWinner:        StatusWaitForMinting,
	StatusWaitForMinting:         StatusCompleted,
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) Valid() bool { return int(s) < len(statusNames) }

func (s Status) Terminal() bool { return s == StatusCompleted }

func ParseStatus(name string) (Status, error) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// advance moves g to the successor of from. It fails if g is not in from.
func advance(g *Game, from Status) error {
	if g.Status != from {
		return fmt.Errorf("%w: game is %s, want %s", ErrInvalidGameState, g.Status, from)
	}
	next, ok := GameFlow[from]
	if !ok {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidGameState, from)
	}
	g.Status = next
	return nil
}

func requireStatus(g Game, want Status) error {
	if g.Status != want {
		return fmt.Errorf("%w: game is %s, want %s", ErrInvalidGameState, g.Status, want)
	}
	return nil
}
