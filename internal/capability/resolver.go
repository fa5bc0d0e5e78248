package capability

import (
	"github.com/pitabwire/docflow/model"
)

// RoleNormalizer resolves raw role strings to a workflow role.
type RoleNormalizer interface {
	Resolve(raw []string) (model.Role, bool)
}

// ActorResolver derives the engine's actor context from an authenticated
// request and a loaded document.
type ActorResolver struct {
	roles RoleNormalizer
}

// NewActorResolver creates a resolver backed by roles.
func NewActorResolver(roles RoleNormalizer) *ActorResolver {
	return &ActorResolver{roles: roles}
}

// Resolve returns the actor context. It fails with FORBIDDEN when none of the
// caller's roles maps to a workflow role.
func (r *ActorResolver) Resolve(rctx *model.RequestContext, doc model.Document) (model.ActorContext, error) {
	if rctx == nil {
		return model.ActorContext{}, model.NewUnauthorizedError("missing request context")
	}
	role, ok := r.roles.Resolve(rctx.Roles)
	if !ok {
		return model.ActorContext{}, model.NewForbiddenError("no workflow role for the current user")
	}
	return model.ActorContext{
		Role:       role,
		IsAssignee: isAssignee(rctx.SubjectID, doc.Assignees),
	}, nil
}

func isAssignee(subjectID string, assignees []string) bool {
	if subjectID == "" {
		return false
	}
	for _, a := range assignees {
		if a == subjectID {
			return true
		}
	}
	return false
}
