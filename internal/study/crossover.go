package study

import (
	"strconv"
	"strings"

	"github.com/tphakala/readerstudy/internal/datastore/entities"
	"github.com/tphakala/readerstudy/internal/errors"
)

// sessionCodePrefix precedes the 1-based session index in a session code.
const sessionCodePrefix = "S"

// Design is the part of the study configuration the crossover depends on.
type Design struct {
	TotalGroups   int
	TotalSessions int
}

// Crossover is the resolved block assignment of one session.
type Crossover struct {
	SessionIndex int
	BlockAMode   entities.Mode
	BlockBMode   entities.Mode
}

// SessionCode returns the code of the 1-based session index.
func SessionCode(index int) string {
	return sessionCodePrefix + strconv.Itoa(index)
}

// SessionCodes lists S1..SN for a design with n sessions.
func SessionCodes(n int) []string {
	codes := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		codes = append(codes, SessionCode(i))
	}
	return codes
}

// ParseSessionCode returns the 1-based index of a code such as "S2".
func ParseSessionCode(code string, totalSessions int) (int, error) {
	digits, ok := strings.CutPrefix(code, sessionCodePrefix)
	if !ok || digits == "" || digits[0] == '0' {
		return 0, configError("unknown session code %q", code)
	}
	index, err := strconv.Atoi(digits)
	if err != nil || index < 1 || index > totalSessions {
		return 0, configError("unknown session code %q", code)
	}
	return index, nil
}

// ResolveCrossover maps a group and session code to the modes of both blocks
// using a Latin square: block A is UNAIDED when group+session_index is even,
// block B always gets the other mode.
func ResolveCrossover(group int, sessionCode string, design Design) (Crossover, error) {
	if design.TotalGroups < 1 || design.TotalSessions < 1 {
		return Crossover{}, configError("study design needs at least one group and one session")
	}
	if group < 1 || group > design.TotalGroups {
		return Crossover{}, configError("group %d is outside 1..%d", group, design.TotalGroups)
	}
	index, err := ParseSessionCode(sessionCode, design.TotalSessions)
	if err != nil {
		return Crossover{}, err
	}

	modeA := entities.ModeAided
	if (group+index)%2 == 0 {
		modeA = entities.ModeUnaided
	}
	return Crossover{
		SessionIndex: index,
		BlockAMode:   modeA,
		BlockBMode:   modeA.Complement(),
	}, nil
}

func configError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("study").
		Category(errors.CategoryConfiguration).
		Build()
}
