package api

import (
	"context"
	"net/http"

	"persona-chat/backend/internal/models"

	"github.com/gin-gonic/gin"
)

// PersonaLister lists the configured personas.
type PersonaLister interface {
	List(ctx context.Context) ([]models.Persona, error)
}

// PersonaSummary is the public view of a persona; prompts stay server side.
type PersonaSummary struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	VoiceType string `json:"voiceType,omitempty"`
}

// PersonaController serves persona discovery
type PersonaController struct {
	personas PersonaLister
}

func NewPersonaController(personas PersonaLister) *PersonaController {
	return &PersonaController{personas: personas}
}

// RegisterRoutes mounts GET /personas under group
func (c *PersonaController) RegisterRoutes(group gin.IRouter) {
	group.GET("/personas", c.List)
}

// List handles GET /personas.
func (c *PersonaController) List(ctx *gin.Context) {
	personas, err := c.personas.List(ctx.Request.Context())
	if err != nil {
		_ = ctx.Error(err)
		return
	}

	out := make([]PersonaSummary, 0, len(personas))
	for _, p := range personas {
		out = append(out, PersonaSummary{ID: p.ID, Name: p.Name, VoiceType: p.VoiceType})
	}
	ctx.JSON(http.StatusOK, gin.H{"personas": out})
}
