package repository

import (
	"context"

	"github.com/m-mizutani/strata/pkg/model"
)

// SessionMap binds timestamp identifiers to the session whose transcript they summarize
type SessionMap interface {
	// Resolve returns the session bound to tsid. The bool is false when tsid is unknown.
	Resolve(ctx context.Context, tsid model.TSID) (model.SessionID, bool, error)

	// Bind associates tsid with sessionID, overwriting any previous binding (last write wins)
	Bind(ctx context.Context, tsid model.TSID, sessionID model.SessionID) error

	// Load returns the whole mapping
	Load(ctx context.Context) (map[model.TSID]model.SessionID, error)
}
