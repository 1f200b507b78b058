// Package control exposes the local HTTP API that replaces an extension
// popup: settings toggles, profile/card/model management, and manual fill
// triggers. It binds to loopback; there is no authentication layer because
// nothing here should ever be reachable off the machine.
package control

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bakaburg1/form-butler/bus"
	"github.com/bakaburg1/form-butler/profile"
	"github.com/bakaburg1/form-butler/registry"
	"github.com/bakaburg1/form-butler/storage"
)

// Config wires a Server.
type Config struct {
	Store    storage.Store
	Profiles *profile.Manager
	Registry *registry.Registry
	Bus      *bus.Bus
	Logger   *slog.Logger
}

// Server is the control-plane HTTP API.
type Server struct {
	store    storage.Store
	profiles *profile.Manager
	reg      *registry.Registry
	bus      *bus.Bus
	logger   *slog.Logger
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:    cfg.Store,
		profiles: cfg.Profiles,
		reg:      cfg.Registry,
		bus:      cfg.Bus,
		logger:   logger,
	}
}

// Router builds the chi router with the full API surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(securityHeaders)
	r.Use(maxBody(64 * 1024))
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", s.listProfiles)
			r.Post("/", s.saveProfile)
			r.Delete("/{name}", s.deleteProfile)
			r.Get("/current", s.currentProfile)
			r.Put("/current", s.setCurrentProfile)
		})

		r.Route("/cards", func(r chi.Router) {
			r.Get("/", s.listCards)
			r.Post("/", s.saveCard)
			r.Delete("/{name}", s.deleteCard)
			r.Get("/current", s.currentCard)
			r.Put("/current", s.setCurrentCard)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", s.listModels)
			r.Post("/", s.saveModel)
			// Labels contain slashes, so deletion and selection go by body
			// or query rather than a path segment.
			r.Delete("/", s.deleteModel)
			r.Get("/current", s.currentModel)
			r.Put("/current", s.setCurrentModel)
		})

		r.Route("/forms", func(r chi.Router) {
			r.Get("/", s.listForms)
			r.Post("/fill", s.triggerFill)
		})
	})

	return r
}

// --- settings ---

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := storage.LoadSettings(r.Context(), s.store)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, settings)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var settings storage.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := storage.SaveSettings(r.Context(), s.store, settings); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, settings)
}

// --- profiles ---

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.profiles.Profiles(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if profiles == nil {
		profiles = []profile.Profile{}
	}
	writeJSON(w, 200, profiles)
}

func (s *Server) saveProfile(w http.ResponseWriter, r *http.Request) {
	var p profile.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := s.profiles.SaveProfile(r.Context(), p); err != nil {
		writeError(w, 400, err)
		return
	}
	writeJSON(w, 201, p)
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.profiles.DeleteProfile(r.Context(), name); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

// profileView lists fields in display order: default schema first by
// position, custom fields after.
type profileView struct {
	Name   string          `json:"name"`
	Fields []profile.Field `json:"fields"`
}

func (s *Server) currentProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.CurrentProfile(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if p == nil {
		writeError(w, 404, errNoCurrent("profile"))
		return
	}
	writeJSON(w, 200, profileView{Name: p.Name, Fields: p.SortedFields()})
}

func (s *Server) setCurrentProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := s.profiles.SetCurrentProfile(r.Context(), req.Name); err != nil {
		writeError(w, 404, err)
		return
	}
	writeJSON(w, 200, map[string]string{"current": req.Name})
}

// --- cards ---

func (s *Server) listCards(w http.ResponseWriter, r *http.Request) {
	cards, err := s.profiles.Cards(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	// Card numbers stay inside the process; the list shows shapes only.
	shapes := make([]profile.Card, 0, len(cards))
	for _, c := range cards {
		shapes = append(shapes, c.Shape())
	}
	writeJSON(w, 200, shapes)
}

func (s *Server) saveCard(w http.ResponseWriter, r *http.Request) {
	var c profile.Card
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := s.profiles.SaveCard(r.Context(), c); err != nil {
		writeError(w, 400, err)
		return
	}
	writeJSON(w, 201, c.Shape())
}

func (s *Server) deleteCard(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.profiles.DeleteCard(r.Context(), name); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

func (s *Server) currentCard(w http.ResponseWriter, r *http.Request) {
	c, err := s.profiles.CurrentCard(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if c == nil {
		writeError(w, 404, errNoCurrent("card"))
		return
	}
	writeJSON(w, 200, c.Shape())
}

func (s *Server) setCurrentCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := s.profiles.SetCurrentCard(r.Context(), req.Name); err != nil {
		writeError(w, 404, err)
		return
	}
	writeJSON(w, 200, map[string]string{"current": req.Name})
}

// --- models ---

type modelView struct {
	Label      string `json:"label"`
	Name       string `json:"name"`
	Endpoint   string `json:"endpoint"`
	APISpec    string `json:"apiSpec"`
	APIVersion string `json:"apiVersion,omitempty"`
	HasKey     bool   `json:"hasKey"`
}

func viewOf(mc profile.ModelConfig) modelView {
	return modelView{
		Label:      mc.Label(),
		Name:       mc.Name,
		Endpoint:   mc.Endpoint,
		APISpec:    mc.APISpec,
		APIVersion: mc.APIVersion,
		HasKey:     mc.APIKey != "",
	}
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.profiles.Models(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	views := make([]modelView, 0, len(models))
	for _, mc := range models {
		views = append(views, viewOf(mc))
	}
	writeJSON(w, 200, views)
}

func (s *Server) saveModel(w http.ResponseWriter, r *http.Request) {
	var mc profile.ModelConfig
	if err := json.NewDecoder(r.Body).Decode(&mc); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := s.profiles.SaveModel(r.Context(), mc); err != nil {
		writeError(w, 400, err)
		return
	}
	writeJSON(w, 201, viewOf(mc))
}

func (s *Server) deleteModel(w http.ResponseWriter, r *http.Request) {
	label := r.URL.Query().Get("label")
	if label == "" {
		writeError(w, 400, errMissingParam("label"))
		return
	}
	if err := s.profiles.DeleteModel(r.Context(), label); err != nil {
		writeError(w, 500, err)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

func (s *Server) currentModel(w http.ResponseWriter, r *http.Request) {
	mc, err := s.profiles.CurrentModel(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if mc == nil {
		writeError(w, 404, errNoCurrent("model"))
		return
	}
	writeJSON(w, 200, viewOf(*mc))
}

func (s *Server) setCurrentModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, err)
		return
	}
	if err := s.profiles.SetCurrentModel(r.Context(), req.Label); err != nil {
		writeError(w, 404, err)
		return
	}
	writeJSON(w, 200, map[string]string{"current": req.Label})
}

// --- forms ---

func (s *Server) listForms(w http.ResponseWriter, r *http.Request) {
	records, err := s.reg.List(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if records == nil {
		records = []registry.FormRecord{}
	}
	writeJSON(w, 200, records)
}

func (s *Server) triggerFill(w http.ResponseWriter, _ *http.Request) {
	s.bus.Publish(bus.TopicFillForm, bus.FillForm{})
	writeJSON(w, 202, map[string]string{"status": "triggered"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

type apiError string

func (e apiError) Error() string { return string(e) }

func errNoCurrent(kind string) error { return apiError("no current " + kind + " selected") }
func errMissingParam(p string) error { return apiError("missing query parameter " + p) }
