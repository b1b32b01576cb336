package authority

import (
	"strings"

	"github.com/samber/do/v2"
)

// ModeratorAuthority answers whether a participant holds the moderator
// capability. It is never stored on the entities it guards.
type ModeratorAuthority interface {
	IsModerator(participantID string) bool
}

type StaticAuthority struct {
	moderators map[string]struct{}
}

func NewStaticAuthority(ids ...string) *StaticAuthority {
	result := &StaticAuthority{moderators: make(map[string]struct{}, len(ids))}

	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			result.moderators[id] = struct{}{}
		}
	}

	return result
}

func NewAuthorityService(i do.Injector) (ModeratorAuthority, error) {
	moderators := do.MustInvokeNamed[[]string](i, "moderators")

	return NewStaticAuthority(moderators...), nil
}

func (a *StaticAuthority) IsModerator(participantID string) bool {
	_, ok := a.moderators[participantID]

	return ok
}
