package rbac

import (
	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with the namespace access control routes.
// A nil extractor falls back to the development header extractor.
func NewRouter(service *Service, extractor ActorExtractor) chi.Router {
	names := service.ByName()
	r := chi.NewRouter()

	r.Route("/namespaces/{namespace}", func(r chi.Router) {
		r.Get("/collaborators", getCollaboratorsHandler(names, extractor))
		r.Get("/users", getUsersHandler(names, extractor))
		r.Post("/technical-users", createTechnicalUserHandler(names, extractor))

		r.Route("/collaborators/{username}", func(r chi.Router) {
			r.Put("/roles", putRolesHandler(names, extractor))
			r.Post("/roles/{role}", addRoleHandler(names, extractor))
			r.Delete("/roles/{role}", removeRoleHandler(names, extractor))
			r.Delete("/", deleteAllRolesHandler(names, extractor))
		})
	})

	r.Route("/users/{username}", func(r chi.Router) {
		r.Get("/namespaces", getNamespacesHandler(names, extractor))
		r.Get("/namespaces/collaborators", getNamespacesCollaboratorsHandler(names, extractor))
		r.Get("/only-admin", getOnlyAdminHandler(names, extractor))
	})

	return r
}
