package server

import (
	"github.com/crlsmrls/fwatch/alertcache"
	"github.com/crlsmrls/fwatch/autoblock"
	"github.com/crlsmrls/fwatch/eventstore"
	"github.com/crlsmrls/fwatch/ingest"
)

// Deps bundles the collaborators routes.go wires into handlers. Every field
// is optional: a nil collaborator means the routes that need it are not
// mounted, which keeps the server usable in tests that only care about a
// subset of the application.
type Deps struct {
	Store       *eventstore.Store
	Alerts      *alertcache.Cache
	Blocklist   *autoblock.Store
	Pipeline    *ingest.Pipeline
	Broadcaster *ingest.Broadcaster
}
