package questions

import (
	"time"

	"github.com/google/uuid"

	"github.com/aura-classroom/engagement/internal/models"
)

// View is the display shape of a question for one class of viewer.
type View struct {
	ID          uuid.UUID `json:"id"`
	SessionCode string    `json:"sessionCode"`
	AuthorID    string    `json:"authorId,omitempty"`
	AuthorName  string    `json:"authorName"`
	IsAnonymous bool      `json:"isAnonymous"`
	Text        string    `json:"text"`
	UpvoteCount int       `json:"upvoteCount"`
	IsAnswered  bool      `json:"isAnswered"`
	IsDeleted   bool      `json:"isDeleted,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ViewFor shapes q for a viewer of the given role. Anonymous questions always
// display the anonymous label; only staff see who asked them.
func ViewFor(q models.Question, viewer models.Role) View {
	v := View{
		ID:          q.ID,
		SessionCode: q.SessionCode,
		AuthorID:    q.AuthorID,
		AuthorName:  q.AuthorName,
		IsAnonymous: q.IsAnonymous,
		Text:        q.Text,
		UpvoteCount: q.UpvoteCount,
		IsAnswered:  q.IsAnswered,
		IsDeleted:   q.IsDeleted,
		CreatedAt:   q.CreatedAt,
		UpdatedAt:   q.UpdatedAt,
	}
	if q.IsAnonymous {
		v.AuthorName = models.AnonymousLabel
		if !viewer.IsStaff() {
			v.AuthorID = ""
		}
	}
	return v
}

// ViewsFor shapes a list of questions for one viewer.
func ViewsFor(list []models.Question, viewer models.Role) []View {
	out := make([]View, 0, len(list))
	for _, q := range list {
		out = append(out, ViewFor(q, viewer))
	}
	return out
}
