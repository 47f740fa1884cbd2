package calculator

// Direction is the way a close moved through a level.
type Direction int

const (
	None Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "none"
	}
}

// Cross reports whether level lies between prev and next. Touching the level
// from either side counts; staying on it does not.
func Cross(prev, next, level int64) Direction {
	switch {
	case prev < level && level <= next:
		return Up
	case prev > level && level >= next:
		return Down
	default:
		return None
	}
}

