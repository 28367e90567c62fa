package task

// IsValidProgression decides whether a task may move from current to
// requested. allowChange is granted when the acting user originally
// completed the task or holds elevated write privilege; it unlocks the
// self-correction paths out of otherwise settled statuses.
//
// The function is pure and store-free so the full rule table can be
// enumerated in tests.
func IsValidProgression(current, requested Status, allowChange bool) bool {
	if current == requested {
		return true
	}
	if requested == StatusDeleted || requested == StatusDisabled {
		return true
	}

	switch current {
	case StatusCreated:
		return true
	case StatusFixed:
		if !allowChange {
			return false
		}
		return requested == StatusFalsePositive ||
			requested == StatusAlreadyFixed ||
			requested == StatusTooHard
	case StatusFalsePositive:
		if requested == StatusFixed {
			return true
		}
		if !allowChange {
			return false
		}
		return requested == StatusAlreadyFixed || requested == StatusTooHard
	case StatusSkipped, StatusTooHard:
		switch requested {
		case StatusFixed, StatusFalsePositive, StatusAlreadyFixed,
			StatusSkipped, StatusTooHard, StatusAnswered:
			return true
		}
		return false
	case StatusDeleted:
		return requested == StatusCreated
	case StatusAlreadyFixed:
		if !allowChange {
			return false
		}
		return requested == StatusFixed ||
			requested == StatusFalsePositive ||
			requested == StatusTooHard
	case StatusAnswered, StatusValidated:
		return false
	case StatusDisabled:
		return requested == StatusCreated
	default:
		return false
	}
}
