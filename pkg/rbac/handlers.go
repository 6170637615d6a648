package rbac

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// CollaboratorResponse is the wire form of one collaborator and their roles.
type CollaboratorResponse struct {
	Username  string   `json:"userId"`
	Roles     []string `json:"roles"`
	Technical bool     `json:"isTechnicalUser,omitempty"`
}

// NamespaceResponse is the wire form of one namespace.
type NamespaceResponse struct {
	Name  string `json:"name"`
	Admin bool   `json:"admin,omitempty"`
}

// NamespaceCollaboratorsResponse is the wire form of one namespace with its
// collaborator matrix.
type NamespaceCollaboratorsResponse struct {
	Name          string                 `json:"name"`
	Collaborators []CollaboratorResponse `json:"collaborators"`
}

type setRolesRequest struct {
	Roles []string `json:"roles"`
}

type technicalUserRequest struct {
	Username                 string   `json:"userId"`
	AuthenticationProviderID string   `json:"authenticationProviderId"`
	Roles                    []string `json:"roles"`
}

type changedResponse struct {
	Changed bool `json:"changed"`
}

// getCollaboratorsHandler returns the collaborator matrix of a namespace.
func getCollaboratorsHandler(names *Names, extractor ActorExtractor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, extractor)
		if !ok {
			return
		}
		matrix, err := names.GetRolesByUser(actor, chi.URLParam(r, "namespace"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, collaboratorResponses(matrix))
	}
}

// getUsersHandler returns the users collaborating on a namespace, optionally
// filtered by roles given as a comma-separated query parameter.
func getUsersHandler(names *Names, extractor ActorExtractor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, extractor)
		if !ok {
			return
		}
		users, err := names.GetUsers(actor, chi.URLParam(r, "namespace"), roleFilterParam(r)...)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := make([]CollaboratorResponse, 0, len(users))
		for _, u := range users {
			out = append(out, CollaboratorResponse{Username: u.Username, Technical: u.Technical})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// putRolesHandler overwrites a collaborator's roles on a namespace.
func putRolesHandler(names *Names, extractor ActorExtractor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, extractor)
		if !ok {
			return
		}
		var req setRolesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		changed, err := names.SetRoles(actor,
			chi.URLParam(r, "username"), chi.URLParam(r, "namespace"), req.Roles)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
	}
}

// addRoleHandler grants a single role to a collaborator.
func addRoleHandler(names *Names, extractor ActorExtractor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, extractor)
		if !ok {
			return
		}
		changed, err := names.AddRole(actor,
			chi.URLParam(r, "username"), chi.URLParam(r, "namespace"), chi.URLParam(r, "role"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
	}
}

// removeRoleHandler revokes a single role from a collaborator.
func removeRoleHandler(names *Names, extractor ActorExtractor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, extractor)
		if !ok {
			return
		}
		changed, err := names.RemoveRole(actor,
			chi.URLParam(r, "username"), chi.URLParam(r, "namespace"), chi.URLParam(r, "role"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, changedResponse{Changed: changed})
	}
}

// deleteAllRolesHandler removes a collaborator's association entirely.
func deleteAllRolesHandler(names *Names, extractor ActorExtractor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, extractor)
		if !ok {
			return
		}
		deleted, err := names.DeleteAllRoles(actor,
			chi.URLParam(r, "username"), chi.URLParam(r, "namespace"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, changedResponse{Changed: deleted})
	}
}

// createTechnicalUserHandler creates a technical user and grants it roles on
// the namespace in one transaction.
func createTechnicalUserHandler(names *Names, extractor ActorExtractor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, extractor)
		if !ok {
			return
		}
		var req technicalUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		technical := &User{
			Username:                 req.Username,
			AuthenticationProviderID: req.AuthenticationProviderID,
			Technical:                true,
			CreatedBy:                actor,
		}
		err := names.CreateTechnicalUserAndAddAsCollaborator(actor, technical,
			chi.URLParam(r, "namespace"), req.Roles)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, CollaboratorResponse{
			Username:  technical.Username,
			Roles:     req.Roles,
			Technical: true,
		})
	}
}

// getNamespacesHandler returns the namespaces where a user collaborates.
func getNamespacesHandler(names *Names, extractor ActorExtractor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, extractor)
		if !ok {
			return
		}
		namespaces, err := names.GetNamespaces(actor, chi.URLParam(r, "username"), roleFilterParam(r)...)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := make([]NamespaceResponse, 0, len(namespaces))
		for _, ns := range namespaces {
			out = append(out, NamespaceResponse{Name: ns.Name})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// getNamespacesCollaboratorsHandler returns the full namespace/collaborator
// matrix for a user.
func getNamespacesCollaboratorsHandler(names *Names, extractor ActorExtractor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, extractor)
		if !ok {
			return
		}
		matrix, err := names.GetNamespacesCollaboratorsAndRoles(actor,
			chi.URLParam(r, "username"), roleFilterParam(r)...)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := make([]NamespaceCollaboratorsResponse, 0, len(matrix))
		for _, nsc := range matrix {
			out = append(out, NamespaceCollaboratorsResponse{
				Name:          nsc.Namespace.Name,
				Collaborators: collaboratorResponses(nsc.Collaborators),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// getOnlyAdminHandler reports whether a user is the sole administrator of
// any namespace.
func getOnlyAdminHandler(names *Names, extractor ActorExtractor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r, extractor)
		if !ok {
			return
		}
		only, err := names.IsOnlyAdminInAnyNamespace(actor, chi.URLParam(r, "username"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"isOnlyAdminInAnyNamespace": only})
	}
}

func collaboratorResponses(matrix []UserRoles) []CollaboratorResponse {
	out := make([]CollaboratorResponse, 0, len(matrix))
	for _, ur := range matrix {
		roleNames := make([]string, 0, len(ur.Roles))
		for _, role := range ur.Roles {
			roleNames = append(roleNames, role.Name)
		}
		out = append(out, CollaboratorResponse{
			Username:  ur.User.Username,
			Roles:     roleNames,
			Technical: ur.User.Technical,
		})
	}
	return out
}

// roleFilterParam reads the optional comma-separated "roles" query
// parameter.
func roleFilterParam(r *http.Request) []string {
	raw := r.URL.Query().Get("roles")
	if raw == "" {
		return nil
	}
	var roles []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			roles = append(roles, name)
		}
	}
	return roles
}

func requireActor(w http.ResponseWriter, r *http.Request, extractor ActorExtractor) (string, bool) {
	if extractor == nil {
		extractor = DefaultActorExtractor
	}
	actor := extractor(r)
	if actor == "" {
		writeError(w, http.StatusUnauthorized, "request carries no acting user identity")
		return "", false
	}
	return actor, true
}

// writeServiceError maps engine errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrOperationForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrDoesNotExist), errors.Is(err, ErrUnknownRole), errors.Is(err, ErrNoAssociation):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
