// Package postgres assembles the pgx repositories into one directory store.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-classroom/engagement/internal/coordinator"
	"github.com/aura-classroom/engagement/internal/polls"
	"github.com/aura-classroom/engagement/internal/questions"
	"github.com/aura-classroom/engagement/internal/sessions"
	"github.com/aura-classroom/engagement/internal/worker"
)

type (
	sessionRepo  = sessions.Repository
	pollRepo     = polls.Repository
	questionRepo = questions.Repository
)

// Directory is the Postgres-backed directory store. It satisfies the store
// interfaces of the coordinator, both engines and the archive worker.
type Directory struct {
	*sessionRepo
	*pollRepo
	*questionRepo
}

var (
	_ coordinator.SessionStore = (*Directory)(nil)
	_ polls.Store              = (*Directory)(nil)
	_ questions.Store          = (*Directory)(nil)
	_ worker.Source            = (*Directory)(nil)
)

// New builds the directory over a shared pool.
func New(pool *pgxpool.Pool) *Directory {
	return &Directory{
		sessionRepo:  sessions.NewRepository(pool),
		pollRepo:     polls.NewRepository(pool),
		questionRepo: questions.NewRepository(pool),
	}
}
