package handlers

import (
	"strconv"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"

	"registration-system/internal/services"
)

// RolesField is the users collection field holding a user's roles.
const RolesField = "roles"

// actorOf returns the signed in user, or nil for anonymous requests.
func actorOf(e *core.RequestEvent) services.Actor {
	if e.Auth == nil {
		return nil
	}
	return services.User{
		UserID: e.Auth.Id,
		Roles:  e.Auth.GetStringSlice(RolesField),
	}
}

func requireActor(e *core.RequestEvent) (services.Actor, error) {
	actor := actorOf(e)
	if actor == nil {
		return nil, apis.NewUnauthorizedError("The request requires a signed in user.", nil)
	}
	return actor, nil
}

// queryInt reads a non-negative integer query parameter, falling back to def.
func queryInt(e *core.RequestEvent, name string, def int) int {
	v, err := strconv.Atoi(e.Request.URL.Query().Get(name))
	if err != nil || v < 0 {
		return def
	}
	return v
}
