package service

import (
	"context"
	"errors"
	"slices"
	"strings"

	"care-reminders/internal/model"
	"care-reminders/internal/push"
)

// Outcome says how an audience lookup ended. Only OutcomeResolved carries
// tokens.
type Outcome int

const (
	OutcomeResolved Outcome = iota
	OutcomeGroupNotFound
	OutcomeNoRecipients
	OutcomeLookupFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeResolved:
		return "resolved"
	case OutcomeGroupNotFound:
		return "group not found"
	case OutcomeNoRecipients:
		return "no recipients"
	case OutcomeLookupFailed:
		return "lookup failed"
	default:
		return "unknown"
	}
}

// Audience is the resolved recipient set of one notification.
type Audience struct {
	Outcome Outcome
	Group   *model.Group
	Users   []model.User
	Tokens  []string
	Err     error
}

func (a Audience) Resolved() bool {
	return a.Outcome == OutcomeResolved
}

func failed(err error) Audience {
	return Audience{Outcome: OutcomeLookupFailed, Err: err}
}

// AudienceResolver maps tasks and groups to recipient tokens. Id lookups
// are split into chunks of at most limit ids.
type AudienceResolver struct {
	groups GroupStore
	users  UserStore
	limit  int
}

func NewAudienceResolver(groups GroupStore, users UserStore, limit int) *AudienceResolver {
	if limit <= 0 {
		limit = 10
	}
	return &AudienceResolver{groups: groups, users: users, limit: limit}
}

// Assignees resolves the tokens of the given users.
func (r *AudienceResolver) Assignees(ctx context.Context, ids []string) Audience {
	users, err := r.lookup(ctx, ids, "")
	if err != nil {
		return failed(err)
	}
	return withTokens(Audience{Users: users})
}

// Caretakers resolves the caretakers of a group, leaving out exclude.
func (r *AudienceResolver) Caretakers(ctx context.Context, groupID string, exclude []string) Audience {
	group, outcome, err := r.group(ctx, groupID)
	if outcome != OutcomeResolved {
		return Audience{Outcome: outcome, Err: err}
	}
	members := make([]string, 0, len(group.Members))
	for _, id := range group.Members {
		if !slices.Contains(exclude, id) {
			members = append(members, id)
		}
	}
	users, err := r.lookup(ctx, members, model.RoleCaretaker)
	if err != nil {
		return failed(err)
	}
	return withTokens(Audience{Group: group, Users: users})
}

// GroupMembers resolves every member of a group regardless of role.
func (r *AudienceResolver) GroupMembers(ctx context.Context, groupID string) Audience {
	group, outcome, err := r.group(ctx, groupID)
	if outcome != OutcomeResolved {
		return Audience{Outcome: outcome, Err: err}
	}
	users, err := r.lookup(ctx, group.Members, "")
	if err != nil {
		return failed(err)
	}
	return withTokens(Audience{Group: group, Users: users})
}

// Names joins the usernames of ids in id order. Unknown users and empty
// usernames become fallback.
func (r *AudienceResolver) Names(ctx context.Context, ids []string, fallback string) string {
	if len(ids) == 0 {
		return fallback
	}
	users, err := r.lookup(ctx, ids, "")
	if err != nil {
		return fallback
	}
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, byID[id].DisplayName(fallback))
	}
	return strings.Join(names, ", ")
}

// GroupName returns the group's display name or fallback.
func (r *AudienceResolver) GroupName(ctx context.Context, groupID, fallback string) string {
	group, outcome, _ := r.group(ctx, groupID)
	if outcome != OutcomeResolved || group.GroupName == "" {
		return fallback
	}
	return group.GroupName
}

func (r *AudienceResolver) group(ctx context.Context, groupID string) (*model.Group, Outcome, error) {
	if groupID == "" {
		return nil, OutcomeGroupNotFound, nil
	}
	group, err := r.groups.FindGroup(ctx, groupID)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return nil, OutcomeGroupNotFound, nil
	case err != nil:
		return nil, OutcomeLookupFailed, err
	}
	return group, OutcomeResolved, nil
}

func (r *AudienceResolver) lookup(ctx context.Context, ids []string, role model.Role) ([]model.User, error) {
	ids = push.CleanTokens(ids)
	var users []model.User
	for chunk := range slices.Chunk(ids, r.limit) {
		found, err := r.users.FindUsers(ctx, chunk, role)
		if err != nil {
			return nil, err
		}
		users = append(users, found...)
	}
	return users, nil
}

func withTokens(a Audience) Audience {
	var tokens []string
	for _, u := range a.Users {
		tokens = append(tokens, u.FCMTokens...)
	}
	a.Tokens = push.CleanTokens(tokens)
	if len(a.Tokens) == 0 {
		a.Outcome = OutcomeNoRecipients
	} else {
		a.Outcome = OutcomeResolved
	}
	return a
}
