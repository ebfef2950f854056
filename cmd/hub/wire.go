package main

import (
	"context"
	"fmt"
	"path/filepath"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/sirupsen/logrus"

	"github.com/trustweave/dag-hub/pkg/cache"
	"github.com/trustweave/dag-hub/pkg/commission"
	"github.com/trustweave/dag-hub/pkg/compose"
	"github.com/trustweave/dag-hub/pkg/config"
	"github.com/trustweave/dag-hub/pkg/events"
	"github.com/trustweave/dag-hub/pkg/hub"
	"github.com/trustweave/dag-hub/pkg/ingest"
	"github.com/trustweave/dag-hub/pkg/lock"
	"github.com/trustweave/dag-hub/pkg/order"
	"github.com/trustweave/dag-hub/pkg/store"
	"github.com/trustweave/dag-hub/pkg/validate"
)

// node bundles every component a subcommand might need, assembled once
// in newNode so sync/send/info/log share identical wiring, the way
// run_hub_server assembles its collaborators before branching into
// whichever mode main() actually runs.
type node struct {
	cfg      *config.Config
	client   *store.Client
	store    *store.Store
	bus      *events.Bus
	order    *order.Engine
	composer *compose.Composer
	pipeline *ingest.Pipeline
	hub      *hub.Hub
	log      *logrus.Entry
}

func newNode(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*node, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := store.NewClient(cfg, store.WithLogger(log.Debugf))
	if err != nil {
		return nil, fmt.Errorf("hub: connect store: %w", err)
	}
	if err := client.MigrateUp(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("hub: migrate store: %w", err)
	}
	st := store.New(client)

	knownDB, err := openKnownUnitsDB(cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	known, err := cache.NewKnownUnits(cache.NewKVAdapter(knownDB))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("hub: init known-units cache: %w", err)
	}

	bus := events.New()
	comm := commission.New(st, log)
	ord := order.New(st, comm, bus, cfg.WitnessAddresses, log)
	composer := compose.New(st, cfg.WitnessAddresses, log)
	validator := validate.New(st, validate.Ed25519Verifier{})
	pipeline := ingest.New(st, known, validator, lock.NewWriter(), ord, log)

	reg := prometheusRegistryOrNil(cfg)
	h := hub.New(cfg, st, pipeline, ord, composer, bus, cfg.WitnessAddresses, reg, log)

	return &node{
		cfg:      cfg,
		client:   client,
		store:    st,
		bus:      bus,
		order:    ord,
		composer: composer,
		pipeline: pipeline,
		hub:      h,
		log:      log,
	}, nil
}

func (n *node) Close() error {
	return n.client.Close()
}

// openKnownUnitsDB opens the durable known-unit/quarantine cache as a
// goleveldb instance under cfg.InitialDBPath, following
// bft_integration.go's dbm.NewGoLevelDB(name, dir) call for the
// equivalent durable-but-embedded store.
func openKnownUnitsDB(cfg *config.Config) (dbm.DB, error) {
	dir := cfg.InitialDBPath
	if dir == "" {
		dir = "./data"
	}
	db, err := dbm.NewGoLevelDB("known_units", dir)
	if err != nil {
		return nil, fmt.Errorf("hub: open known-units db at %s: %w", filepath.Join(dir, "known_units.db"), err)
	}
	return db, nil
}
